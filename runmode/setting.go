package runmode

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Setting is the run_mode value as written in configuration: a shorthand
// string, the legacy map, or a canonical map carrying "type".
type Setting struct {
	Shorthand Shorthand
	Legacy    *Legacy
	Config    *Config
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	*s = Setting{}
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		s.Shorthand = Shorthand(v)
		return nil
	case yaml.MappingNode:
		if hasKey(node, "type") {
			var c Config
			if err := node.Decode(&c); err != nil {
				return fmt.Errorf("run_mode: %w", err)
			}
			s.Config = &c
			return nil
		}
		var l Legacy
		if err := node.Decode(&l); err != nil {
			return fmt.Errorf("run_mode: %w", err)
		}
		s.Legacy = &l
		return nil
	}
	return fmt.Errorf("run_mode: expected a string or a map, line %d", node.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (s Setting) MarshalYAML() (any, error) {
	switch {
	case s.Config != nil:
		return s.Config, nil
	case s.Legacy != nil:
		return s.Legacy, nil
	}
	return string(s.Shorthand), nil
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
