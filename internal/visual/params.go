package visual

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Params is the kind specific parameter record of a descriptor. Keys with no
// typed field are kept in Extra and forwarded to the renderer untouched.
type Params interface {
	Kind() Kind
	Unrecognized() map[string]interface{}
}

type EquationParams struct {
	FontSize int                    `yaml:"font_size,omitempty"`
	Color    string                 `yaml:"color,omitempty"`
	Extra    map[string]interface{} `yaml:",inline"`
}

type TextParams struct {
	FontSize int                    `yaml:"font_size,omitempty"`
	Color    string                 `yaml:"color,omitempty"`
	Extra    map[string]interface{} `yaml:",inline"`
}

type GraphParams struct {
	XRange   []float64              `yaml:"x_range,omitempty"`
	YRange   []float64              `yaml:"y_range,omitempty"`
	XLabel   string                 `yaml:"x_label,omitempty"`
	YLabel   string                 `yaml:"y_label,omitempty"`
	Function string                 `yaml:"function,omitempty"`
	Extra    map[string]interface{} `yaml:",inline"`
}

type AnimationParams struct {
	Template  string                 `yaml:"template,omitempty"`
	Direction string                 `yaml:"direction,omitempty"`
	Distance  float64                `yaml:"distance,omitempty"`
	Extra     map[string]interface{} `yaml:",inline"`
}

type DiagramParams struct {
	Layout string                 `yaml:"layout,omitempty"`
	Extra  map[string]interface{} `yaml:",inline"`
}

func (*EquationParams) Kind() Kind  { return KindEquation }
func (*TextParams) Kind() Kind      { return KindText }
func (*GraphParams) Kind() Kind     { return KindGraph }
func (*AnimationParams) Kind() Kind { return KindAnimation }
func (*DiagramParams) Kind() Kind   { return KindDiagram }

func (p *EquationParams) Unrecognized() map[string]interface{}  { return p.Extra }
func (p *TextParams) Unrecognized() map[string]interface{}      { return p.Extra }
func (p *GraphParams) Unrecognized() map[string]interface{}     { return p.Extra }
func (p *AnimationParams) Unrecognized() map[string]interface{} { return p.Extra }
func (p *DiagramParams) Unrecognized() map[string]interface{}   { return p.Extra }

func newParams(kind Kind) (Params, error) {
	switch kind {
	case KindEquation:
		return &EquationParams{}, nil
	case KindText:
		return &TextParams{}, nil
	case KindGraph:
		return &GraphParams{}, nil
	case KindAnimation:
		return &AnimationParams{}, nil
	case KindDiagram:
		return &DiagramParams{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeParams(kind Kind, node *yaml.Node) (Params, error) {
	params, err := newParams(kind)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Kind == 0 {
		return params, nil
	}
	if err := node.Decode(params); err != nil {
		return nil, fmt.Errorf("%s params: %w", kind, err)
	}
	return params, nil
}
