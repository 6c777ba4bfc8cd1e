package timeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keagan/avsync/pkg/util"
	"gopkg.in/yaml.v3"
)

// Metadata formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Metadata is the human-readable record of an assembled timeline. Times are
// in seconds.
type Metadata struct {
	RunID     string            `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	Total     float64           `json:"total" yaml:"total"`
	Segments  []SegmentMetadata `json:"segments" yaml:"segments"`
}

type SegmentMetadata struct {
	ID            string           `json:"id" yaml:"id"`
	Position      int              `json:"position" yaml:"position"`
	Offset        float64          `json:"offset" yaml:"offset"`
	Duration      float64          `json:"duration" yaml:"duration"`
	ClipDuration  float64          `json:"clip_duration,omitempty" yaml:"clip_duration,omitempty"`
	Action        string           `json:"action" yaml:"action"`
	Padding       float64          `json:"padding,omitempty" yaml:"padding,omitempty"`
	Trimmed       bool             `json:"trimmed" yaml:"trimmed"`
	Placeholder   bool             `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Visuals       []VisualMetadata `json:"visuals,omitempty" yaml:"visuals,omitempty"`
}

type VisualMetadata struct {
	Index       int     `json:"index" yaml:"index"`
	Start       float64 `json:"start" yaml:"start"`
	Intended    float64 `json:"intended" yaml:"intended"`
	Duration    float64 `json:"duration" yaml:"duration"`
	Source      string  `json:"source" yaml:"source"`
	TriggerWord string  `json:"trigger_word,omitempty" yaml:"trigger_word,omitempty"`
	SpokenWord  string  `json:"spoken_word,omitempty" yaml:"spoken_word,omitempty"`
}

// Metadata exports the timeline for run runID.
func (t *Timeline) Metadata(runID string, createdAt time.Time) *Metadata {
	m := &Metadata{
		RunID:     runID,
		CreatedAt: createdAt.UTC(),
		Total:     t.Total.Seconds(),
		Segments:  make([]SegmentMetadata, 0, len(t.Entries)),
	}

	for _, e := range t.Entries {
		seg := SegmentMetadata{
			ID:            e.Segment.SegmentID,
			Position:      e.Position,
			Offset:        e.Offset.Seconds(),
			Duration:      e.Segment.Duration.Seconds(),
			ClipDuration:  e.Segment.ClipDuration.Seconds(),
			Action:        string(e.Segment.Action),
			Padding:       e.Segment.Padding.Seconds(),
			Trimmed:       e.Segment.Trimmed,
			Placeholder:   e.Segment.Placeholder,
			FailureReason: e.Segment.FailureReason,
		}
		for _, p := range e.Points {
			if p.VisualIndex < 0 {
				continue
			}
			seg.Visuals = append(seg.Visuals, VisualMetadata{
				Index:       p.VisualIndex,
				Start:       p.Start.Seconds(),
				Intended:    (e.Offset + p.Start).Seconds(),
				Duration:    p.Duration.Seconds(),
				Source:      string(p.Source),
				TriggerWord: p.TriggerWord,
				SpokenWord:  p.SpokenWord,
			})
		}
		m.Segments = append(m.Segments, seg)
	}

	return m
}

// IntendedStarts returns the recorded intended start of every visual.
func (m *Metadata) IntendedStarts() []VisualStart {
	var out []VisualStart
	for _, s := range m.Segments {
		for _, v := range s.Visuals {
			out = append(out, VisualStart{
				SegmentID:   s.ID,
				VisualIndex: v.Index,
				Intended:    util.FromSeconds(v.Intended),
			})
		}
	}
	return out
}

// Encode writes the metadata to w in the given format.
func (m *Metadata) Encode(w io.Writer, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported metadata format %q", format)
	}
}

// FormatFor picks a format from a file extension, defaulting to JSON.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// WriteMetadata writes m to path, choosing the format from the extension.
func WriteMetadata(path string, m *Metadata) error {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer f.Close()

	if err := m.Encode(f, FormatFor(path)); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads metadata written by WriteMetadata.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if FormatFor(path) == FormatYAML {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return &m, nil
}
