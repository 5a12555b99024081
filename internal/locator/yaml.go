package locator

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either the textual form ("testid=tab-bar") or a
// mapping with kind/value/name/has_text/exact/nth keys.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := Parse(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*l = parsed
		return nil
	case yaml.MappingNode:
		type plain Locator
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		if err := Locator(p).Validate(); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*l = Locator(p)
		return nil
	default:
		return fmt.Errorf("line %d: locator must be a string or a mapping", node.Line)
	}
}

// MarshalYAML writes the textual form.
func (l Locator) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}
