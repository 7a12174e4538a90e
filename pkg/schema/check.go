package schema

import (
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

// Dynamic values:
//   nil                       absent (undefined)
//   bool                      boolean
//   float64, ints, uints      number
//   json.Number               number; also bigint when it has no fraction
//   *big.Int / big.Int        bigint
//   string                    string
//   []any / any slice         list
//   map[string]any / structs  field mapping (structs via their JSON form)

var bigIntType = reflect.TypeOf(big.Int{})

// IsType reports whether v structurally matches s. Keys present on v but
// absent from s are ignored. A nil schema matches nothing.
func IsType(v any, s *Schema) bool {
	if s == nil {
		return false
	}
	v = plain(v)
	switch s.kind {
	case KindPrimitive:
		return matchesPrimitive(v, s.prim)
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if !IsType(item, s.elem) {
				return false
			}
		}
		return true
	case KindOptional:
		if v == nil {
			return true
		}
		return IsType(v, s.elem)
	case KindFields:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for k, fs := range s.fields {
			if !IsType(m[k], fs) {
				return false
			}
		}
		return true
	}
	return false
}

// Reduce prunes v down to the fields described by s. The second result is
// false when the reduction is absent. Fields whose reduction is absent are
// omitted from the output map, and list elements reducing to absent are
// dropped. Reduce does not validate: callers with untrusted input should
// gate it behind IsType. A nil schema passes v through unchanged.
func Reduce(v any, s *Schema) (any, bool) {
	if s == nil {
		return v, v != nil
	}
	v = plain(v)
	if v == nil {
		return nil, false
	}
	switch s.kind {
	case KindPrimitive:
		return v, true
	case KindOptional:
		return Reduce(v, s.elem)
	case KindList:
		items, _ := v.([]any)
		out := make([]any, 0, len(items))
		for _, item := range items {
			if r, ok := Reduce(item, s.elem); ok {
				out = append(out, r)
			}
		}
		return out, true
	case KindFields:
		m, _ := v.(map[string]any)
		out := make(map[string]any, len(s.fields))
		for k, fs := range s.fields {
			if r, ok := Reduce(m[k], fs); ok {
				out[k] = r
			}
		}
		return out, true
	}
	return nil, false
}

// Check is IsType with a description of the first mismatch, for logs and
// CLI output. The returned path is dotted, e.g. "records[2].name".
func Check(v any, s *Schema) (path string, ok bool) {
	p, ok := check(plain(v), s, "")
	if p == "" {
		p = "$"
	}
	return p, ok
}

func check(v any, s *Schema, path string) (string, bool) {
	if s == nil {
		return path, false
	}
	switch s.kind {
	case KindPrimitive:
		return path, matchesPrimitive(v, s.prim)
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return path, false
		}
		for i, item := range items {
			if p, ok := check(plain(item), s.elem, path+"["+strconv.Itoa(i)+"]"); !ok {
				return p, false
			}
		}
		return path, true
	case KindOptional:
		if v == nil {
			return path, true
		}
		return check(v, s.elem, path)
	case KindFields:
		m, ok := v.(map[string]any)
		if !ok {
			return path, false
		}
		for _, k := range s.Keys() {
			child := k
			if path != "" {
				child = path + "." + k
			}
			if p, ok := check(plain(m[k]), s.fields[k], child); !ok {
				return p, false
			}
		}
		return path, true
	}
	return path, false
}

func matchesPrimitive(v any, p Primitive) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return p == Boolean
	case string:
		return p == String
	case *big.Int:
		return p == BigInt && x != nil
	case json.Number:
		if p == Number {
			_, err := x.Float64()
			return err == nil
		}
		if p == BigInt {
			return isIntegral(string(x))
		}
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return p == Number
	}
	return false
}

func isIntegral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// plain converts v to the dynamic value model. Containers of concrete types
// are converted shallowly; structs go through their JSON encoding.
func plain(v any) any {
	switch x := v.(type) {
	case nil, bool, string, json.Number, map[string]any, []any:
		return v
	case *big.Int:
		if x == nil {
			return nil
		}
		return v
	case json.RawMessage:
		return decodeJSON(x)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer && rv.Type().Elem() == bigIntType {
			return rv.Interface()
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		if rv.Type() == bigIntType {
			b := rv.Interface().(big.Int)
			return &b
		}
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil
		}
		return decodeJSON(data)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

func decodeJSON(data []byte) any {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}
