package manifest

import (
	"fmt"
	"os"

	"github.com/keagan/avsync/internal/validate"
	"github.com/keagan/avsync/pkg/util"
	"gopkg.in/yaml.v3"
)

type measurementsFile struct {
	Measurements []measurement `yaml:"measurements"`
}

type measurement struct {
	SegmentID   string    `yaml:"segment_id"`
	VisualIndex int       `yaml:"visual_index"`
	Realized    Timestamp `yaml:"realized"`
}

// Timestamp accepts plain seconds or an HH:MM:SS.mmm string.
type Timestamp struct {
	Seconds float64
}

func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	var f float64
	if err := node.Decode(&f); err == nil {
		if f < 0 {
			return fmt.Errorf("negative timestamp %g", f)
		}
		t.Seconds = f
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	d, err := util.ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Seconds = d.Seconds()
	return nil
}

// LoadMeasurements reads realized visual start times from a YAML or JSON file.
func LoadMeasurements(path string) ([]validate.Measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}

	var f measurementsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse measurements %s: %w", path, err)
	}

	out := make([]validate.Measurement, 0, len(f.Measurements))
	for i, m := range f.Measurements {
		if m.SegmentID == "" {
			return nil, fmt.Errorf("measurement %d has no segment_id", i)
		}
		out = append(out, validate.Measurement{
			SegmentID:   m.SegmentID,
			VisualIndex: m.VisualIndex,
			Realized:    util.FromSeconds(m.Realized.Seconds),
		})
	}
	return out, nil
}
