package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/avsync/internal/narration"
	"github.com/keagan/avsync/internal/pipeline"
	"github.com/keagan/avsync/internal/visual"
	"github.com/keagan/avsync/pkg/util"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned for manifests that cannot be planned.
var ErrInvalidManifest = errors.New("invalid manifest")

// Project is a manifest: the segments of one video in script order.
type Project struct {
	Title    string    `yaml:"title"`
	Segments []Segment `yaml:"segments"`

	// dir is the manifest's directory; relative paths resolve against it.
	dir string
}

type Segment struct {
	ID      string              `yaml:"id"`
	Audio   Audio               `yaml:"audio"`
	Visuals []visual.Descriptor `yaml:"visuals"`
	Clip    Clip                `yaml:"clip"`
}

type Audio struct {
	Duration float64 `yaml:"duration"`
	Path     string  `yaml:"path"`
	Text     string  `yaml:"text"`
	Words    []Word  `yaml:"words"`
}

type Word struct {
	Word  string  `yaml:"word"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

type Clip struct {
	Duration float64 `yaml:"duration"`
	Path     string  `yaml:"path"`
}

// Load reads a YAML or JSON manifest and validates it.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	return p, nil
}

// Parse decodes and validates manifest data.
func Parse(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks segment ids and durations.
func (p *Project) Validate() error {
	seen := make(map[string]bool, len(p.Segments))
	for i, s := range p.Segments {
		if s.ID == "" {
			return fmt.Errorf("%w: segment %d has no id", ErrInvalidManifest, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate segment id %q", ErrInvalidManifest, s.ID)
		}
		seen[s.ID] = true

		if s.Audio.Duration <= 0 {
			return fmt.Errorf("%w: segment %q needs a positive audio duration", ErrInvalidManifest, s.ID)
		}
		if s.Clip.Duration < 0 {
			return fmt.Errorf("%w: segment %q has a negative clip duration", ErrInvalidManifest, s.ID)
		}
	}
	return nil
}

// PipelineSegments converts the manifest into pipeline work units. Segments
// without word timings but with narration text get estimated timings. Word
// timings are not validated here; a segment with bad timings fails in the
// pipeline under the configured failure policy.
func (p *Project) PipelineSegments() []pipeline.Segment {
	out := make([]pipeline.Segment, len(p.Segments))
	for i, s := range p.Segments {
		visuals := make([]visual.Descriptor, len(s.Visuals))
		for j, v := range s.Visuals {
			v.Position = j
			visuals[j] = v
		}

		out[i] = pipeline.Segment{
			Position:     i,
			ID:           s.ID,
			Audio:        s.audioSegment(),
			AudioPath:    p.resolve(s.Audio.Path),
			Visuals:      visuals,
			ClipPath:     p.resolve(s.Clip.Path),
			ClipDuration: util.FromSeconds(s.Clip.Duration),
		}
	}
	return out
}

func (s Segment) audioSegment() narration.AudioSegment {
	audio := narration.AudioSegment{
		ID:       s.ID,
		Duration: util.FromSeconds(s.Audio.Duration),
	}

	switch {
	case len(s.Audio.Words) > 0:
		audio.Words = make([]narration.WordTimestamp, len(s.Audio.Words))
		for i, w := range s.Audio.Words {
			audio.Words[i] = narration.WordTimestamp{
				Word:  w.Word,
				Start: util.FromSeconds(w.Start),
				End:   util.FromSeconds(w.End),
			}
		}
		// timings taken before the narration was sped up
		if last := audio.Words[len(audio.Words)-1].End; last > audio.Duration {
			audio.Words = narration.ScaleToDuration(audio.Words, audio.Duration)
		}
	case s.Audio.Text != "":
		// words that do not fit leave the segment untimed; its visuals are
		// placed sequentially
		if words, err := narration.EstimateTimestamps(s.Audio.Text, audio.Duration, nil); err == nil {
			audio.Words = words
		}
	}

	return audio
}

// EstimatedDuration predicts how long the narration text takes to speak at
// a normal rate. It reports false for segments with word timings or no text.
func (s Segment) EstimatedDuration() (time.Duration, bool) {
	if len(s.Audio.Words) > 0 || s.Audio.Text == "" {
		return 0, false
	}
	return narration.EstimateDuration(s.Audio.Text, narration.NormalRate, nil), true
}

func (p *Project) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}
