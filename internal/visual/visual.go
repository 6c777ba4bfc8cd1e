package visual

import (
	"errors"
	"fmt"
	"time"

	"github.com/keagan/avsync/pkg/util"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownKind is returned for a descriptor whose kind has no parameter type.
	ErrUnknownKind = errors.New("unknown visual kind")
	// ErrInvalidDescriptor is returned for out-of-range timing fields.
	ErrInvalidDescriptor = errors.New("invalid visual descriptor")
)

// Kind selects how a visual is drawn and which Params variant it carries.
type Kind string

const (
	KindEquation  Kind = "equation"
	KindGraph     Kind = "graph"
	KindText      Kind = "text"
	KindAnimation Kind = "animation"
	KindDiagram   Kind = "diagram"
)

// Descriptor is a declarative description of one visual in a segment.
// Content and Params are opaque here and only forwarded to the renderer.
type Descriptor struct {
	Kind           Kind
	Content        string
	AnimationStyle string
	Placement      string

	// Duration is the explicit on-screen time; zero means unspecified.
	Duration time.Duration
	// TriggerWords are words or short phrases that schedule the visual.
	TriggerWords []string
	// LeadTime overrides the configured lead time when non-nil.
	LeadTime *time.Duration
	// Position is the visual's order within its segment.
	Position int

	Params Params
}

// HasDuration reports whether an explicit duration was given.
func (d Descriptor) HasDuration() bool {
	return d.Duration > 0
}

// Lead returns the descriptor's lead time or def when none is set.
func (d Descriptor) Lead(def time.Duration) time.Duration {
	if d.LeadTime != nil {
		return *d.LeadTime
	}
	return def
}

// Validate checks the timing fields.
func (d Descriptor) Validate() error {
	if d.Duration < 0 {
		return fmt.Errorf("%w: %s visual %d has negative duration", ErrInvalidDescriptor, d.Kind, d.Position)
	}
	if d.LeadTime != nil && *d.LeadTime < 0 {
		return fmt.Errorf("%w: %s visual %d has negative lead time", ErrInvalidDescriptor, d.Kind, d.Position)
	}
	if _, err := newParams(d.Kind); err != nil {
		return err
	}
	return nil
}

type rawDescriptor struct {
	Kind           Kind      `yaml:"kind"`
	Type           Kind      `yaml:"type"`
	Content        string    `yaml:"content"`
	AnimationStyle string    `yaml:"animation_style"`
	Placement      string    `yaml:"placement"`
	Duration       *float64  `yaml:"duration"`
	TriggerWords   []string  `yaml:"trigger_words"`
	LeadTime       *float64  `yaml:"lead_time"`
	Params         yaml.Node `yaml:"params"`
}

// UnmarshalYAML decodes a descriptor with durations in seconds and kind
// specific params. "type" is accepted as an alias for "kind".
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	var raw rawDescriptor
	if err := node.Decode(&raw); err != nil {
		return err
	}

	kind := raw.Kind
	if kind == "" {
		kind = raw.Type
	}

	params, err := decodeParams(kind, &raw.Params)
	if err != nil {
		return err
	}

	out := Descriptor{
		Kind:           kind,
		Content:        raw.Content,
		AnimationStyle: raw.AnimationStyle,
		Placement:      raw.Placement,
		TriggerWords:   raw.TriggerWords,
		Params:         params,
	}
	if raw.Duration != nil {
		if *raw.Duration <= 0 {
			return fmt.Errorf("%w: duration must be positive, got %g", ErrInvalidDescriptor, *raw.Duration)
		}
		out.Duration = util.FromSeconds(*raw.Duration)
	}
	if raw.LeadTime != nil {
		lead := util.FromSeconds(*raw.LeadTime)
		out.LeadTime = &lead
	}

	*d = out
	return d.Validate()
}

// MarshalYAML writes the descriptor back in its manifest form.
func (d Descriptor) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{
		"kind":    d.Kind,
		"content": d.Content,
	}
	if d.AnimationStyle != "" {
		out["animation_style"] = d.AnimationStyle
	}
	if d.Placement != "" {
		out["placement"] = d.Placement
	}
	if d.HasDuration() {
		out["duration"] = d.Duration.Seconds()
	}
	if len(d.TriggerWords) > 0 {
		out["trigger_words"] = d.TriggerWords
	}
	if d.LeadTime != nil {
		out["lead_time"] = d.LeadTime.Seconds()
	}
	if d.Params != nil {
		out["params"] = d.Params
	}
	return out, nil
}
