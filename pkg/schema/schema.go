// Package schema describes the accepted shape of protocol payloads and
// provides the two operations performed against such descriptions:
// IsType (structural check) and Reduce (prune to the described fields).
//
// A Schema is a tagged variant. The tag is fixed at construction, so a
// field-mapping schema can hold a field literally named "optional" without
// being mistaken for an optional wrapper.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variant of a Schema node.
type Kind int

const (
	KindPrimitive Kind = iota
	KindList
	KindOptional
	KindFields
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindList:
		return "list"
	case KindOptional:
		return "optional"
	case KindFields:
		return "fields"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Primitive names a scalar runtime kind.
type Primitive string

const (
	Boolean Primitive = "boolean"
	Number  Primitive = "number"
	BigInt  Primitive = "bigint"
	String  Primitive = "string"
)

// Valid reports whether p is one of the four primitive tags.
func (p Primitive) Valid() bool {
	switch p {
	case Boolean, Number, BigInt, String:
		return true
	}
	return false
}

var (
	ErrInvalidSchema   = errors.New("invalid schema")
	ErrUnsupportedType = errors.New("unsupported type")
)

// Fields maps field names to their schemas. Wrap a field schema with
// Optional to allow the field to be absent.
type Fields map[string]*Schema

// Schema is an immutable shape description.
type Schema struct {
	kind   Kind
	prim   Primitive
	elem   *Schema
	fields Fields
}

var (
	boolSchema   = &Schema{kind: KindPrimitive, prim: Boolean}
	numberSchema = &Schema{kind: KindPrimitive, prim: Number}
	bigIntSchema = &Schema{kind: KindPrimitive, prim: BigInt}
	stringSchema = &Schema{kind: KindPrimitive, prim: String}
)

func Bool() *Schema { return boolSchema }
func Num() *Schema  { return numberSchema }
func Big() *Schema  { return bigIntSchema }
func Str() *Schema  { return stringSchema }

// Prim returns the schema for a primitive tag.
func Prim(p Primitive) (*Schema, error) {
	switch p {
	case Boolean:
		return boolSchema, nil
	case Number:
		return numberSchema, nil
	case BigInt:
		return bigIntSchema, nil
	case String:
		return stringSchema, nil
	}
	return nil, fmt.Errorf("%w: unknown primitive %q", ErrInvalidSchema, string(p))
}

// ListOf describes a homogeneous list whose elements match inner.
func ListOf(inner *Schema) *Schema {
	if inner == nil {
		panic("schema: ListOf(nil)")
	}
	return &Schema{kind: KindList, elem: inner}
}

// Optional describes a value that may be absent; if present it must match inner.
func Optional(inner *Schema) *Schema {
	if inner == nil {
		panic("schema: Optional(nil)")
	}
	return &Schema{kind: KindOptional, elem: inner}
}

// Object describes a field mapping. The map is copied.
func Object(fields Fields) *Schema {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		if v == nil {
			panic(fmt.Sprintf("schema: Object field %q is nil", k))
		}
		cp[k] = v
	}
	return &Schema{kind: KindFields, fields: cp}
}

func (s *Schema) Kind() Kind { return s.kind }

// Primitive returns the tag of a primitive schema, or "" for other kinds.
func (s *Schema) Primitive() Primitive { return s.prim }

// Elem returns the inner schema of a list or optional node.
func (s *Schema) Elem() *Schema { return s.elem }

// Field returns the schema of a named field of a fields node.
func (s *Schema) Field(name string) (*Schema, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Keys returns the field names of a fields node in sorted order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports structural equality.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case KindPrimitive:
		return s.prim == o.prim
	case KindList, KindOptional:
		return s.elem.Equal(o.elem)
	case KindFields:
		if len(s.fields) != len(o.fields) {
			return false
		}
		for k, v := range s.fields {
			ov, ok := o.fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact, deterministic form, e.g. {a:number,b:[string]?}.
func (s *Schema) String() string {
	if s == nil {
		return "<nil>"
	}
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *Schema) write(b *strings.Builder) {
	switch s.kind {
	case KindPrimitive:
		b.WriteString(string(s.prim))
	case KindList:
		b.WriteByte('[')
		s.elem.write(b)
		b.WriteByte(']')
	case KindOptional:
		s.elem.write(b)
		b.WriteByte('?')
	case KindFields:
		b.WriteByte('{')
		for i, k := range s.Keys() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			s.fields[k].write(b)
		}
		b.WriteByte('}')
	}
}
