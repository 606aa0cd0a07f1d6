package rubric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Checklist records a yes/no answer for each of the twelve fixed criteria.
//
// Keys outside the fixed set are not rejected: they are kept as [Extra]
// entries in the order they were first seen so they can still be displayed
// (using the raw key as the label). Extras never contribute to [Checklist.Score].
//
// The zero value is an empty checklist with every criterion answered "no".
type Checklist struct {
	values  [Count]bool
	present [Count]bool
	extras  []Extra
}

// Extra is a checklist answer whose key is not one of the fixed criteria.
type Extra struct {
	Key   string
	Value bool
}

// Entry is one displayable checklist line.
type Entry struct {
	Key   string
	Label string
	Value bool

	// Known is false for extras.
	Known bool
}

// Set records the answer for key. Unknown keys are stored as extras; setting
// the same unknown key twice overwrites the earlier value in place.
func (c *Checklist) Set(key string, v bool) {
	if i := indexOf(Key(key)); i >= 0 {
		c.values[i] = v
		c.present[i] = true
		return
	}
	for i := range c.extras {
		if c.extras[i].Key == key {
			c.extras[i].Value = v
			return
		}
	}
	c.extras = append(c.extras, Extra{Key: key, Value: v})
}

// Get returns the answer for a fixed key. Unanswered and unknown keys report false.
func (c Checklist) Get(key Key) bool {
	i := indexOf(key)
	return i >= 0 && c.values[i]
}

// Has reports whether an answer was explicitly recorded for key.
func (c Checklist) Has(key Key) bool {
	i := indexOf(key)
	return i >= 0 && c.present[i]
}

// Missing returns the fixed keys that were never explicitly answered.
func (c Checklist) Missing() []Key {
	var out []Key
	for i, ok := range c.present {
		if !ok {
			out = append(out, criteria[i].Key)
		}
	}
	return out
}

// Extras returns a copy of the answers recorded under unknown keys.
func (c Checklist) Extras() []Extra {
	return slices.Clone(c.extras)
}

// Score returns the sum of the weights of every criterion answered "yes".
func (c Checklist) Score() int {
	total := 0
	for i, v := range c.values {
		if v {
			total += criteria[i].Points
		}
	}
	return total
}

// Entries returns the twelve fixed criteria in display order followed by the
// extras in insertion order.
func (c Checklist) Entries() []Entry {
	out := make([]Entry, 0, Count+len(c.extras))
	for i, crit := range criteria {
		out = append(out, Entry{Key: string(crit.Key), Label: crit.Label, Value: c.values[i], Known: true})
	}
	for _, e := range c.extras {
		out = append(out, Entry{Key: e.Key, Label: e.Key, Value: e.Value})
	}
	return out
}

// UnmarshalJSON decodes a JSON object of key → boolean, preserving the order
// of unknown keys. null leaves c unchanged.
func (c *Checklist) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("rubric: checklist: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rubric: checklist: expected object, got %v", tok)
	}
	var out Checklist
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("rubric: checklist: %w", err)
		}
		key, _ := tok.(string)
		val, err := dec.Token()
		if err != nil {
			return fmt.Errorf("rubric: checklist %q: %w", key, err)
		}
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("rubric: checklist %q: value %v is not a boolean", key, val)
		}
		out.Set(key, b)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("rubric: checklist: %w", err)
	}
	*c = out
	return nil
}

// MarshalJSON encodes the recorded answers as an object in display order.
// Unanswered fixed keys are omitted.
func (c Checklist) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, v bool) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		fmt.Fprintf(&buf, ":%t", v)
	}
	for i, crit := range criteria {
		if c.present[i] {
			write(string(crit.Key), c.values[i])
		}
	}
	for _, e := range c.extras {
		write(e.Key, e.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping of key → boolean, preserving the order
// of unknown keys. A null node leaves c unchanged.
func (c *Checklist) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rubric: checklist: line %d: expected mapping", node.Line)
	}
	var out Checklist
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var b bool
		if valNode.Kind != yaml.ScalarNode || valNode.ShortTag() != "!!bool" {
			return fmt.Errorf("rubric: checklist %q: line %d: value is not a boolean", keyNode.Value, valNode.Line)
		}
		if err := valNode.Decode(&b); err != nil {
			return fmt.Errorf("rubric: checklist %q: %w", keyNode.Value, err)
		}
		out.Set(keyNode.Value, b)
	}
	*c = out
	return nil
}
