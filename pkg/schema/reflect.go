package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

var (
	timeType       = reflect.TypeOf(time.Time{})
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))

	typeCache sync.Map // reflect.Type -> *Schema
)

// For derives the schema of T from its Go shape and JSON tags.
func For[T any]() (*Schema, error) {
	return FromType(reflect.TypeOf((*T)(nil)).Elem())
}

// MustFor is For that panics; intended for package-level schema tables.
func MustFor[T any]() *Schema {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// FromType derives a schema from t. Struct fields follow encoding/json
// naming: pointer and omitempty fields are optional, `json:"-"` fields are
// skipped, embedded structs without a name are flattened.
func FromType(t reflect.Type) (*Schema, error) {
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*Schema), nil
	}
	s, err := fromType(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	typeCache.Store(t, s)
	return s, nil
}

func fromType(t reflect.Type, visiting map[reflect.Type]bool) (*Schema, error) {
	if t == bigIntType {
		return Big(), nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		return fromType(t.Elem(), visiting)
	case reflect.Bool:
		return Bool(), nil
	case reflect.String:
		return Str(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Num(), nil
	case reflect.Slice, reflect.Array:
		if t == rawMessageType {
			return nil, fmt.Errorf("%w: %s has no fixed shape", ErrUnsupportedType, t)
		}
		if t.Elem().Kind() == reflect.Uint8 {
			// encoding/json writes byte slices as base64 strings
			return Str(), nil
		}
		inner, err := fromType(t.Elem(), visiting)
		if err != nil {
			return nil, err
		}
		return ListOf(inner), nil
	case reflect.Struct:
		if t == timeType {
			return Str(), nil
		}
		if visiting[t] {
			return nil, fmt.Errorf("%w: recursive type %s", ErrUnsupportedType, t)
		}
		visiting[t] = true
		defer delete(visiting, t)

		fields := Fields{}
		if err := collectFields(t, fields, visiting); err != nil {
			return nil, err
		}
		return Object(fields), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func collectFields(t reflect.Type, into Fields, visiting map[reflect.Type]bool) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := collectFields(ft, into, visiting); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		fs, err := fromType(f.Type, visiting)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", t.Name(), f.Name, err)
		}
		if f.Type.Kind() == reflect.Pointer || hasOption(opts, "omitempty") {
			fs = Optional(fs)
		}
		into[name] = fs
	}
	return nil
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}
