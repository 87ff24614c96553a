package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Refinement tightens a derived input schema.
type Refinement func(*jsonschema.Schema) error

// lookup walks a dotted property path. "[]" steps into array items.
func lookup(s *jsonschema.Schema, path string) (*jsonschema.Schema, error) {
	cur := s
	for _, seg := range strings.Split(path, ".") {
		if cur == nil {
			break
		}
		if seg == "[]" {
			cur = cur.Items
			continue
		}
		cur = cur.Properties[seg]
	}
	if cur == nil {
		return nil, fmt.Errorf("schema has no property %q", path)
	}
	return cur, nil
}

// MaxLength caps a string property.
func MaxLength(path string, n int) Refinement {
	return func(s *jsonschema.Schema) error {
		p, err := lookup(s, path)
		if err != nil {
			return err
		}
		p.MaxLength = &n
		return nil
	}
}

// Enum restricts a property to fixed values.
func Enum(path string, values ...string) Refinement {
	return func(s *jsonschema.Schema) error {
		p, err := lookup(s, path)
		if err != nil {
			return err
		}
		p.Enum = make([]any, len(values))
		for i, v := range values {
			p.Enum[i] = v
		}
		return nil
	}
}

// ItemCount bounds the length of an array property.
func ItemCount(path string, lo, hi int) Refinement {
	return func(s *jsonschema.Schema) error {
		p, err := lookup(s, path)
		if err != nil {
			return err
		}
		p.MinItems = &lo
		p.MaxItems = &hi
		return nil
	}
}

// DefaultValue documents a default value.
func DefaultValue(path string, v any) Refinement {
	return func(s *jsonschema.Schema) error {
		p, err := lookup(s, path)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		p.Default = raw
		return nil
	}
}
