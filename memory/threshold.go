package memory

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Threshold is a token limit: either Fixed or Range.
type Threshold interface {
	// Resolve returns the single token count the threshold stands for.
	Resolve() int
	validate() error
}

// Fixed is a single token limit.
type Fixed int

// Resolve returns n.
func (n Fixed) Resolve() int { return int(n) }

func (n Fixed) validate() error {
	if n < 0 {
		return fmt.Errorf("threshold must be non-negative, got %d", n)
	}
	return nil
}

// Range is a token limit expressed as bounds. It resolves to Max.
type Range struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Resolve returns r.Max.
func (r Range) Resolve() int { return r.Max }

func (r Range) validate() error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("threshold range must be non-negative, got {min: %d, max: %d}", r.Min, r.Max)
	}
	if r.Min > r.Max {
		return fmt.Errorf("threshold range min (%d) exceeds max (%d)", r.Min, r.Max)
	}
	return nil
}

// ResolveThreshold returns the token count t stands for. A nil threshold
// resolves to 0.
func ResolveThreshold(t Threshold) int {
	if t == nil {
		return 0
	}
	return t.Resolve()
}

// ValidateThreshold rejects negative limits and ranges with min > max.
func ValidateThreshold(t Threshold) error {
	if t == nil {
		return fmt.Errorf("%w: threshold is required", ErrInvalidConfig)
	}
	if err := t.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ThresholdValue decodes a Threshold from a scalar integer or a {min, max}
// mapping in YAML or JSON.
type ThresholdValue struct {
	Threshold
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *ThresholdValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("threshold: %w", err)
		}
		v.Threshold = Fixed(n)
	case yaml.MappingNode:
		var r Range
		if err := node.Decode(&r); err != nil {
			return fmt.Errorf("threshold: %w", err)
		}
		v.Threshold = r
	default:
		return fmt.Errorf("threshold: expected integer or {min, max} mapping at line %d", node.Line)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *ThresholdValue) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		v.Threshold = Fixed(n)
		return nil
	}

	var r Range
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("threshold: expected integer or {min, max} object: %w", err)
	}
	v.Threshold = r
	return nil
}

// MarshalYAML renders a Fixed threshold as a scalar and a Range as a mapping.
func (v ThresholdValue) MarshalYAML() (any, error) {
	return v.Threshold, nil
}

// MarshalJSON mirrors MarshalYAML.
func (v ThresholdValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Threshold)
}
