package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Source tags frames of this protocol so they can share a channel with
// unrelated traffic.
const Source = "vfrNav"

var (
	ErrUnknownMessage = errors.New("unknown message id")
	ErrMalformed      = errors.New("malformed frame")
)

// Envelope pairs a message kind with its (reduced) payload.
type Envelope struct {
	ID    MessageID       `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Wire is the outer frame. Value holds the Envelope as a JSON string, not
// a nested object.
type Wire struct {
	Source string `json:"source"`
	Value  string `json:"value"`
}

// EncodeEnvelope serialises {id, value} and wraps it in a vfrNav frame.
func EncodeEnvelope(id MessageID, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", id, err)
	}
	inner, err := json.Marshal(Envelope{ID: id, Value: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", id, err)
	}
	return json.Marshal(Wire{Source: Source, Value: string(inner)})
}

// DecodeFrame unwraps a vfrNav frame. ok is false, with a nil error, when
// the frame belongs to someone else (not JSON, not an object, or another
// source tag). A frame tagged vfrNav that fails to parse is an error.
func DecodeFrame(data []byte) (env Envelope, ok bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Envelope{}, false, nil
	}
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, false, nil
	}
	if w.Source != Source {
		return Envelope{}, false, nil
	}
	if err := json.Unmarshal([]byte(w.Value), &env); err != nil {
		return Envelope{}, true, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.ID.Valid() {
		return env, true, fmt.Errorf("%w: %q", ErrUnknownMessage, env.ID)
	}
	return env, true, nil
}

// Decode parses the envelope value as a dynamic value (numbers kept as
// json.Number) for schema checks.
func (e Envelope) Decode() (any, error) {
	if len(e.Value) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(e.Value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s value: %v", ErrMalformed, e.ID, err)
	}
	return v, nil
}

// Message decodes the envelope value into its typed payload.
func (e Envelope) Message() (Message, error) {
	msg, ok := New(e.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, e.ID)
	}
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(e.Value, msg); err != nil {
		return nil, fmt.Errorf("%w: %s value: %v", ErrMalformed, e.ID, err)
	}
	return msg, nil
}

// As decodes the envelope into T, the pointer-free payload type.
func As[T Message](e Envelope) (T, error) {
	var zero T
	if zero.MessageID() != e.ID {
		return zero, fmt.Errorf("%w: want %s, got %s", ErrUnknownMessage, zero.MessageID(), e.ID)
	}
	var out T
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(e.Value, &out); err != nil {
		return zero, fmt.Errorf("%w: %s value: %v", ErrMalformed, e.ID, err)
	}
	return out, nil
}
