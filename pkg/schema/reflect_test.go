package schema

import (
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt"`
}

type base struct {
	ID string `json:"id"`
}

type flight struct {
	base
	Name      string     `json:"name"`
	Callsign  string     `json:"callsign,omitempty"`
	Positions []position `json:"positions"`
	Created   time.Time  `json:"created"`
	Serial    *big.Int   `json:"serial"`
	Blob      []byte     `json:"blob,omitempty"`
	Internal  string     `json:"-"`
	secret    string
	Untagged  bool
}

func TestForStruct(t *testing.T) {
	got, err := For[flight]()
	require.NoError(t, err)

	want := Object(Fields{
		"id":       Str(),
		"name":     Str(),
		"callsign": Optional(Str()),
		"positions": ListOf(Object(Fields{
			"lat": Num(),
			"lon": Num(),
			"alt": Optional(Num()),
		})),
		"created":  Str(),
		"serial":   Optional(Big()),
		"blob":     Optional(Str()),
		"Untagged": Bool(),
	})
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestForMatchesEncodedValue(t *testing.T) {
	s := MustFor[flight]()
	alt := 1200.0
	f := flight{
		base:      base{ID: "f1"},
		Name:      "VFR hop",
		Positions: []position{{Lat: 48.7, Lon: 2.3, Alt: &alt}, {Lat: 48.8, Lon: 2.4}},
		Serial:    big.NewInt(7),
	}
	assert.True(t, IsType(f, s))

	out, ok := Reduce(f, s)
	require.True(t, ok)
	m := out.(map[string]any)
	assert.NotContains(t, m, "callsign")
	assert.Len(t, m["positions"], 2)
}

func TestFromTypeUnsupported(t *testing.T) {
	type node struct {
		Children []node `json:"children"`
	}
	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{"map", reflect.TypeOf(map[string]int{})},
		{"interface", reflect.TypeOf((*any)(nil)).Elem()},
		{"func", reflect.TypeOf(func() {})},
		{"recursive", reflect.TypeOf(node{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromType(tt.typ)
			assert.ErrorIs(t, err, ErrUnsupportedType)
		})
	}
}

func TestMustForPanics(t *testing.T) {
	assert.Panics(t, func() { MustFor[map[string]string]() })
}
