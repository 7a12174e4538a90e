package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vfrnav/vfrnav/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// WSOptions tunes a WebSocket connection.
type WSOptions struct {
	// ReadLimit caps a single inbound frame; 0 means 1 MiB.
	ReadLimit int64
	// Name labels log lines for this connection.
	Name string
}

// WSConn is a Conn over a gorilla WebSocket. One goroutine writes (and
// pings), one reads; both stop on Close or on the first I/O error.
type WSConn struct {
	conn *websocket.Conn
	name string

	send chan []byte
	recv chan []byte

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to a bridge WebSocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, opts WSOptions) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSConn(conn, opts), nil
}

// NewWSConn takes ownership of conn and starts its pumps.
func NewWSConn(conn *websocket.Conn, opts WSOptions) *WSConn {
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	c := &WSConn{
		conn: conn,
		name: opts.Name,
		send: make(chan []byte, sendBuffer),
		recv: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(limit)

	go c.writePump()
	go c.readPump()
	return c
}

// Name returns the label given at construction.
func (c *WSConn) Name() string { return c.name }

// Done is closed once the connection has shut down.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, if any.
func (c *WSConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WSConn) Post(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.recv:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.recv:
			return f, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame (best effort) and tears down the pumps.
func (c *WSConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *WSConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *WSConn) readPump() {
	defer func() {
		c.shutdown(nil)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("ws", "Connection read failed", map[string]interface{}{
					"conn":  c.name,
					"error": err.Error(),
				})
				c.shutdown(err)
			}
			return
		}
		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
