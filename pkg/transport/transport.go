// Package transport carries opaque protocol frames between two endpoints.
// Delivery is fire-and-forget: no acknowledgement, no retry. Frames sent
// before the far end is listening may be lost.
package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("transport closed")

// Sender posts a frame to the far end.
type Sender interface {
	Post(ctx context.Context, frame []byte) error
}

// Receiver yields inbound frames in arrival order.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Conn is a bidirectional frame transport.
type Conn interface {
	Sender
	Receiver
	Close() error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, frame []byte) error

func (f SenderFunc) Post(ctx context.Context, frame []byte) error { return f(ctx, frame) }

// ---------------------------------------------------------------------------
// In-memory pipe
// ---------------------------------------------------------------------------

type pipe struct {
	done      chan struct{}
	closeOnce sync.Once
}

// PipeEnd is one side of an in-memory Conn pair.
type PipeEnd struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// NewPipe returns two connected ends. Frames posted on one are received on
// the other, in order. buffer is the per-direction queue depth.
func NewPipe(buffer int) (*PipeEnd, *PipeEnd) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	return &PipeEnd{p: p, in: ba, out: ab}, &PipeEnd{p: p, in: ab, out: ba}
}

func (e *PipeEnd) Post(ctx context.Context, frame []byte) error {
	select {
	case <-e.p.done:
		return ErrClosed
	default:
	}
	cp := append([]byte(nil), frame...)
	select {
	case e.out <- cp:
		return nil
	case <-e.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-e.in:
		return f, nil
	default:
	}
	select {
	case f := <-e.in:
		return f, nil
	case <-e.p.done:
		// frames queued before Close are still delivered
		select {
		case f := <-e.in:
			return f, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (e *PipeEnd) Close() error {
	e.p.closeOnce.Do(func() { close(e.p.done) })
	return nil
}
