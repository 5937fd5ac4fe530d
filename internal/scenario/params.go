package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/httpclient"
)

// Params are the form or query parameters of a step. In YAML they are either
// a mapping or a list of [key, value] pairs. Mapping values may be a scalar,
// a list of values sent as repeated pairs, or a mapping of value to selected
// flag for multi-valued selections.
type Params []httpclient.Param

// UnmarshalYAML keeps document order.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	var out Params
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			pairs, err := flattenValue(key, node.Content[i+1])
			if err != nil {
				return err
			}
			out = append(out, pairs...)
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			var pair []string
			if err := item.Decode(&pair); err != nil || len(pair) != 2 {
				return fmt.Errorf("line %d: params entry %d must be a [key, value] pair", item.Line, i)
			}
			out = append(out, httpclient.Param{Key: pair[0], Value: pair[1]})
		}
	default:
		return fmt.Errorf("line %d: params must be a mapping or a list of pairs", node.Line)
	}
	*p = out
	return nil
}

func flattenValue(key string, value *yaml.Node) (Params, error) {
	switch value.Kind {
	case yaml.ScalarNode:
		return Params{{Key: key, Value: value.Value}}, nil
	case yaml.SequenceNode:
		out := make(Params, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: values of %q must be scalars", item.Line, key)
			}
			out = append(out, httpclient.Param{Key: key, Value: item.Value})
		}
		return out, nil
	case yaml.MappingNode:
		var out Params
		for i := 0; i+1 < len(value.Content); i += 2 {
			var selected bool
			if err := value.Content[i+1].Decode(&selected); err != nil {
				return nil, fmt.Errorf("line %d: selection %q of %q must be true or false", value.Content[i+1].Line, value.Content[i].Value, key)
			}
			if selected {
				out = append(out, httpclient.Param{Key: key, Value: value.Content[i].Value})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unsupported value for %q", value.Line, key)
}
