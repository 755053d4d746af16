package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Fact is one entry of Found. Exactly one of Value, Refs or NotFound is set.
type Fact struct {
	Value    any
	Refs     []string
	NotFound string
}

func (f Fact) IsRef() bool      { return len(f.Refs) > 0 }
func (f Fact) IsNotFound() bool { return f.NotFound != "" }

// encoded is the serialized shape shared by the JSON and YAML encoders.
func (f Fact) encoded() any {
	switch {
	case f.IsNotFound():
		return map[string]string{"not_found": f.NotFound}
	case len(f.Refs) == 1:
		return map[string]string{"resource": f.Refs[0]}
	case len(f.Refs) > 1:
		return map[string][]string{"resources": f.Refs}
	default:
		return f.Value
	}
}

func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.encoded())
}

func (f Fact) MarshalYAML() (interface{}, error) {
	return f.encoded(), nil
}

// Found maps fact names to facts, preserving insertion order.
type Found struct {
	keys  []string
	facts map[string]Fact
}

func NewFound() *Found {
	return &Found{facts: make(map[string]Fact)}
}

func (f *Found) put(name string, fact Fact) {
	if _, exists := f.facts[name]; !exists {
		f.keys = append(f.keys, name)
	}
	f.facts[name] = fact
}

// Set records an inline value. A later Set of the same name wins.
func (f *Found) Set(name string, value any) {
	f.put(name, Fact{Value: value})
}

// SetRef points name at a single resource key.
func (f *Found) SetRef(name, key string) {
	f.put(name, Fact{Refs: []string{key}})
}

// AddRef appends key to the references held by name.
func (f *Found) AddRef(name, key string) {
	fact := f.facts[name]
	for _, existing := range fact.Refs {
		if existing == key {
			return
		}
	}
	f.put(name, Fact{Refs: append(append([]string(nil), fact.Refs...), key)})
}

// SetNotFound records an explicit negative answer for name.
func (f *Found) SetNotFound(name, reason string) {
	f.put(name, Fact{NotFound: reason})
}

func (f *Found) Get(name string) (Fact, bool) {
	fact, ok := f.facts[name]
	return fact, ok
}

func (f *Found) Has(name string) bool {
	_, ok := f.facts[name]
	return ok
}

func (f *Found) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f *Found) Len() int { return len(f.keys) }

func (f *Found) clone() *Found {
	out := NewFound()
	for _, name := range f.keys {
		fact := f.facts[name]
		out.put(name, Fact{
			Value:    cloneValue(fact.Value),
			Refs:     append([]string(nil), fact.Refs...),
			NotFound: fact.NotFound,
		})
	}
	return out
}

func (f *Found) MarshalJSON() ([]byte, error) {
	return marshalOrderedJSON(f.keys, func(name string) any { return f.facts[name] })
}

func (f *Found) MarshalYAML() (interface{}, error) {
	return orderedYAMLNode(f.keys, func(name string) any { return f.facts[name] })
}

func marshalOrderedJSON(keys []string, value func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(value(k))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func orderedYAMLNode(keys []string, value func(string) any) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(value(k)); err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			valueNode,
		)
	}
	return node, nil
}
