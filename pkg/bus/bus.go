// Package bus implements the typed message layer on top of a frame
// transport: outbound messages are reduced to their schema before being
// framed, inbound frames are filtered by source tag, checked against the
// schema and dispatched to subscribers in subscription order.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
	"github.com/vfrnav/vfrnav/pkg/transport"
)

var (
	ErrSchemaMismatch = errors.New("payload does not match schema")
	ErrClosed         = errors.New("message handler closed")
)

// Option configures a MessageHandler.
type Option func(*MessageHandler)

// WithSchemas replaces the schema table (default: protocol.Schemas()).
func WithSchemas(table map[protocol.MessageID]*schema.Schema) Option {
	return func(h *MessageHandler) { h.schemas = table }
}

// WithFallback installs the handler that receives frames not tagged with
// the vfrNav source, so the bus composes with a previously installed
// listener instead of swallowing its traffic.
func WithFallback(fn func([]byte)) Option {
	return func(h *MessageHandler) { h.fallback = fn }
}

// WithName labels log lines.
func WithName(name string) Option {
	return func(h *MessageHandler) { h.name = name }
}

// MessageHandler is one end of a typed channel.
type MessageHandler struct {
	name     string
	target   transport.Sender
	schemas  map[protocol.MessageID]*schema.Schema
	fallback func([]byte)

	mu     sync.RWMutex
	subs   map[protocol.MessageID][]*Subscription
	closed bool
}

// New creates a handler posting to target. target is fixed for the
// handler's lifetime.
func New(target transport.Sender, opts ...Option) *MessageHandler {
	h := &MessageHandler{
		name:    "bus",
		target:  target,
		schemas: protocol.Schemas(),
		subs:    make(map[protocol.MessageID][]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Schema returns the schema registered for id; nil means passthrough.
func (h *MessageHandler) Schema(id protocol.MessageID) *schema.Schema {
	return h.schemas[id]
}

// --- Outbound ---

// Send reduces msg to its registered schema and posts the framed envelope.
// A payload that still fails the schema after reduction is not posted and
// yields ErrSchemaMismatch.
func (h *MessageHandler) Send(ctx context.Context, msg protocol.Message) error {
	return h.SendValue(ctx, msg.MessageID(), msg)
}

// SendValue is Send for dynamic values, e.g. decoded from user input.
func (h *MessageHandler) SendValue(ctx context.Context, id protocol.MessageID, value any) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownMessage, id)
	}

	payload := value
	if s := h.schemas[id]; s != nil {
		payload, _ = schema.Reduce(value, s)
		// A nil slice in a required field encodes as null and reduces away;
		// peers would reject the frame, so refuse it here.
		if path, ok := schema.Check(payload, s); !ok {
			return fmt.Errorf("%w: %s at %s", ErrSchemaMismatch, id, path)
		}
	}

	frame, err := protocol.EncodeEnvelope(id, payload)
	if err != nil {
		return err
	}
	if err := h.target.Post(ctx, frame); err != nil {
		return fmt.Errorf("post %s: %w", id, err)
	}
	logger.DebugCF(h.name, "Message sent", map[string]interface{}{
		"id":    id.String(),
		"bytes": len(frame),
	})
	return nil
}

// --- Subscriptions ---

// Subscribe appends cb to the subscribers of id.
func (h *MessageHandler) Subscribe(id protocol.MessageID, cb Callback) *Subscription {
	sub := &Subscription{id: id, cb: cb}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = append(h.subs[id], sub)
	return sub
}

// Unsubscribe removes sub. It reports whether sub was registered.
func (h *MessageHandler) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[sub.id]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			h.subs[sub.id] = next
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of subscribers for id.
func (h *MessageHandler) SubscriberCount(id protocol.MessageID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id])
}

// On subscribes a typed callback; the payload is decoded into T.
func On[T protocol.Message](h *MessageHandler, fn func(T) error) *Subscription {
	var zero T
	return h.Subscribe(zero.MessageID(), func(d Delivery) error {
		msg, err := protocol.As[T](protocol.Envelope{ID: d.ID, Value: d.Raw})
		if err != nil {
			return err
		}
		return fn(msg)
	})
}

// --- Inbound ---

// HandleFrame processes one inbound frame. Foreign frames go to the
// fallback; vfrNav frames are validated and dispatched synchronously.
func (h *MessageHandler) HandleFrame(data []byte) error {
	env, ok, err := protocol.DecodeFrame(data)
	if !ok {
		if h.fallback != nil {
			h.fallback(data)
		}
		return nil
	}
	if err != nil {
		logger.WarnCF(h.name, "Dropped malformed frame", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return h.Dispatch(env)
}

// Dispatch validates env against its schema and delivers it to every
// subscriber of env.ID in subscription order.
func (h *MessageHandler) Dispatch(env protocol.Envelope) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	subs := h.subs[env.ID]
	h.mu.RUnlock()

	value, err := env.Decode()
	if err != nil {
		return err
	}

	if s := h.schemas[env.ID]; s != nil {
		if path, ok := schema.Check(value, s); !ok {
			logger.WarnCF(h.name, "Rejected message failing schema", map[string]interface{}{
				"id":   env.ID.String(),
				"path": path,
			})
			return fmt.Errorf("%w: %s at %s", ErrSchemaMismatch, env.ID, path)
		}
		value, _ = schema.Reduce(value, s)
	}

	d := Delivery{ID: env.ID, Value: value, Raw: env.Value}
	for _, sub := range subs {
		if err := sub.cb(d); err != nil {
			return fmt.Errorf("%s subscriber: %w", env.ID, err)
		}
	}
	return nil
}

// Listen feeds frames from r into HandleFrame until r closes or ctx ends.
// Per-frame errors are logged and do not stop the loop.
func (h *MessageHandler) Listen(ctx context.Context, r transport.Receiver) error {
	for {
		frame, err := r.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if err := h.HandleFrame(frame); err != nil && !errors.Is(err, ErrClosed) {
			logger.DebugCF(h.name, "Frame not delivered", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// Close stops sending and dispatching. Subscriptions are dropped.
func (h *MessageHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[protocol.MessageID][]*Subscription)
}
