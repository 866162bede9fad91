package deployment

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// Attr is a single key/value attribute within the deployment document.
type Attr struct {
	Key   string
	Value interface{}
}

// Attrs is an ordered attribute collection. Plain Go maps would randomise the
// document on every write; regenerating a document from the same registry row
// must produce identical bytes, so order is part of the type.
type Attrs []Attr

// Get returns the value for key and whether it was present.
func (a Attrs) Get(key string) (interface{}, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return nil, false
}

// Has returns true when the key is present.
func (a Attrs) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

// Set replaces the value for key in place, or appends the pair when the key is
// new.
func (a *Attrs) Set(key string, value interface{}) {
	for i, attr := range *a {
		if attr.Key == key {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Attr{Key: key, Value: value})
}

// String returns the value for key as a string, or "" when absent or not a
// string.
func (a Attrs) String(key string) string {
	v, ok := a.Get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Float returns the value for key coerced to a float64. Document attributes
// carry numbers as ints, floats or numeric strings (valid ranges are strings
// like '0.'), so all three are accepted.
func (a Attrs) Float(key string) (float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Floats returns the value for key coerced to a float slice.
func (a Attrs) Floats(key string) ([]float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return nil, false
	}

	switch t := v.(type) {
	case []float64:
		return t, true
	case []interface{}:
		out := make([]float64, 0, len(t))
		for _, item := range t {
			f, ok := toFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

// Child returns the nested Attrs under key.
func (a Attrs) Child(key string) (Attrs, bool) {
	v, ok := a.Get(key)
	if !ok {
		return nil, false
	}
	child, ok := v.(Attrs)
	return child, ok
}

// Keys returns the attribute keys in document order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for _, attr := range a {
		keys = append(keys, attr.Key)
	}
	return keys
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MarshalYAML implements yaml.Marshaler, emitting a mapping node whose keys
// appear in insertion order.
func (a Attrs) MarshalYAML() (interface{}, error) {
	return a.node()
}

func (a Attrs) node() (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, attr := range a {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: attr.Key}

		valNode, err := valueNode(attr.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode attribute '%s'", attr.Key)
		}

		node.Content = append(node.Content, keyNode, valNode)
	}

	return node, nil
}

func valueNode(v interface{}) (*yaml.Node, error) {
	switch t := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case Attrs:
		return t.node()
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}, nil
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(t)}, nil
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(t, 10)}, nil
	case float64:
		return floatNode(t), nil
	case []float64:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, f := range t {
			seq.Content = append(seq.Content, floatNode(f))
		}
		return seq, nil
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, s := range t {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s})
		}
		return seq, nil
	}
	return nil, errors.Errorf("cannot encode attribute value of type %T", v)
}

// floatNode renders integral floats as ints so thresholds like 300.0 read as
// 300 in the document. Readers coerce both forms back through toFloat.
func floatNode(f float64) *yaml.Node {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(f), 10)}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(f, 'g', -1, 64)}
}

// UnmarshalYAML implements yaml.Unmarshaler, preserving the key order found in
// the document.
func (a *Attrs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("expected a mapping at line %d", node.Line)
	}

	attrs := make(Attrs, 0, len(node.Content)/2)

	for i := 0; i < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		value, err := decodeNode(valNode)
		if err != nil {
			return errors.Wrapf(err, "failed to decode attribute '%s'", keyNode.Value)
		}

		attrs = append(attrs, Attr{Key: keyNode.Value, Value: value})
	}

	*a = attrs
	return nil
}

func decodeNode(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.MappingNode:
		var child Attrs
		if err := child.UnmarshalYAML(node); err != nil {
			return nil, err
		}
		return child, nil

	case yaml.SequenceNode:
		items := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil

	case yaml.ScalarNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil

	case yaml.AliasNode:
		return decodeNode(node.Alias)
	}

	return nil, errors.Errorf("unsupported node kind at line %d", node.Line)
}
