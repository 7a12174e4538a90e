package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Textual form, shared by YAML and JSON:
//
//	number                          primitive tag
//	[string]                        list of one inner schema
//	{optional: true, record: S}     optional wrapper
//	{lat: number, name: string}     field mapping
//	{fields: {optional: number}}    field mapping, escaped
//
// The escaped form is emitted whenever the plain mapping would be read back
// as an optional wrapper or as another escape.

const (
	keyOptional = "optional"
	keyRecord   = "record"
	keyFields   = "fields"
)

// Parse builds a schema from its decoded textual form (string, []any,
// map[string]any).
func Parse(raw any) (*Schema, error) {
	return fromRaw(raw, "$")
}

func fromRaw(raw any, path string) (*Schema, error) {
	switch x := raw.(type) {
	case string:
		s, err := Prim(Primitive(x))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	case []any:
		if len(x) != 1 {
			return nil, fmt.Errorf("%s: %w: list schema needs exactly one element, got %d", path, ErrInvalidSchema, len(x))
		}
		inner, err := fromRaw(x[0], path+"[]")
		if err != nil {
			return nil, err
		}
		return ListOf(inner), nil
	case map[string]any:
		if isOptionalForm(x) {
			inner, err := fromRaw(x[keyRecord], path+"?")
			if err != nil {
				return nil, err
			}
			return Optional(inner), nil
		}
		if esc, ok := escapedFields(x); ok {
			x = esc
		}
		fields := make(Fields, len(x))
		for k, v := range x {
			fs, err := fromRaw(v, path+"."+k)
			if err != nil {
				return nil, err
			}
			fields[k] = fs
		}
		return Object(fields), nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %w: non-string key %v", path, ErrInvalidSchema, k)
			}
			m[ks] = v
		}
		return fromRaw(m, path)
	case nil:
		return nil, fmt.Errorf("%s: %w: empty schema", path, ErrInvalidSchema)
	}
	return nil, fmt.Errorf("%s: %w: unexpected %T", path, ErrInvalidSchema, raw)
}

func isOptionalForm(m map[string]any) bool {
	if len(m) != 2 {
		return false
	}
	flag, ok := m[keyOptional].(bool)
	if !ok || !flag {
		return false
	}
	_, ok = m[keyRecord]
	return ok
}

func escapedFields(m map[string]any) (map[string]any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	inner, ok := m[keyFields].(map[string]any)
	return inner, ok
}

// Raw returns the textual form of s as plain Go values.
func (s *Schema) Raw() any {
	switch s.kind {
	case KindPrimitive:
		return string(s.prim)
	case KindList:
		return []any{s.elem.Raw()}
	case KindOptional:
		return map[string]any{keyOptional: true, keyRecord: s.elem.Raw()}
	case KindFields:
		m := make(map[string]any, len(s.fields))
		for k, v := range s.fields {
			m[k] = v.Raw()
		}
		if s.needsEscape() {
			return map[string]any{keyFields: m}
		}
		return m
	}
	return nil
}

func (s *Schema) needsEscape() bool {
	if _, ok := s.fields[keyOptional]; ok {
		return true
	}
	if len(s.fields) == 1 {
		if _, ok := s.fields[keyFields]; ok {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Raw())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s *Schema) MarshalYAML() (interface{}, error) {
	return s.Raw(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = *parsed
	return nil
}
