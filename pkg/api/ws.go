package api

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vfrnav/vfrnav/pkg/bus"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/popup"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/transport"
)

// Peer is one connected EFB panel with its own message handler.
type Peer struct {
	ID      string
	Origin  string
	conn    transport.Conn
	handler *bus.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

// Send posts msg to this peer.
func (p *Peer) Send(msg protocol.Message) error {
	return p.handler.Send(p.ctx, msg)
}

// WSHub tracks connected peers and relays traffic between them.
type WSHub struct {
	server   *Server
	upgrader websocket.Upgrader
	peers    map[string]*Peer
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewWSHub creates a hub bound to server.
func NewWSHub(server *Server) *WSHub {
	h := &WSHub{
		server: server,
		peers:  make(map[string]*Peer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if server.config.OriginAllowed(origin) {
				return true
			}
			logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
			return false
		},
	}
	return h
}

// Run blocks until ctx ends, then disconnects every peer.
func (h *WSHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	h.wg.Wait()
}

// HandleWebSocket upgrades the request and serves the peer until it leaves.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	id := uuid.NewString()
	conn := transport.NewWSConn(raw, transport.WSOptions{
		ReadLimit: h.server.config.Bridge.ReadLimit,
		Name:      id,
	})
	if _, err := h.Attach(id, r.Header.Get("Origin"), conn); err != nil {
		conn.Close()
	}
}

// Attach serves conn as a new peer and returns it. Each peer gets its own
// MessageHandler targeting conn; Attach returns once the read loop runs.
func (h *WSHub) Attach(id, origin string, conn transport.Conn) (*Peer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		ID:     id,
		Origin: origin,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	p.handler = bus.New(conn,
		bus.WithSchemas(h.server.Schemas()),
		bus.WithName("peer"),
		bus.WithFallback(func(data []byte) {
			logger.DebugCF("ws", "Ignored foreign frame", map[string]interface{}{
				"peer":  id,
				"bytes": len(data),
			})
		}),
	)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, transport.ErrClosed
	}
	h.peers[id] = p
	h.wg.Add(1)
	h.mu.Unlock()

	h.server.route(p)

	logger.InfoCF("ws", "Panel connected", map[string]interface{}{
		"peer":   id,
		"origin": origin,
	})
	h.server.notify(popup.Info, "Panel connected", "An EFB panel joined the bridge.")

	go h.serve(p)
	return p, nil
}

func (h *WSHub) serve(p *Peer) {
	defer h.wg.Done()

	if err := p.handler.Listen(p.ctx, p.conn); err != nil {
		logger.WarnCF("ws", "Peer read loop ended", map[string]interface{}{
			"peer":  p.ID,
			"error": err.Error(),
		})
	}
	h.detach(p)
}

func (h *WSHub) detach(p *Peer) {
	h.mu.Lock()
	_, ok := h.peers[p.ID]
	delete(h.peers, p.ID)
	closing := h.closed
	h.mu.Unlock()
	if !ok {
		return
	}

	p.cancel()
	p.handler.Close()
	p.conn.Close()

	logger.InfoCF("ws", "Panel disconnected", map[string]interface{}{
		"peer": p.ID,
	})
	if !closing {
		h.server.notify(popup.Notice, "Panel disconnected", "An EFB panel left the bridge.")
	}
}

// Count returns the number of connected peers.
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Peers returns the connected peer IDs, sorted.
func (h *WSHub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// others snapshots every peer except the one with id skip.
func (h *WSHub) others(skip string) []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != skip {
			out = append(out, p)
		}
	}
	return out
}

// Broadcast sends msg to every peer. It returns how many accepted it.
func (h *WSHub) Broadcast(msg protocol.Message) int {
	return h.relay("", msg.MessageID(), msg)
}

// Relay forwards a dynamic value to every peer except from.
func (h *WSHub) Relay(from string, id protocol.MessageID, value any) int {
	return h.relay(from, id, value)
}

func (h *WSHub) relay(from string, id protocol.MessageID, value any) int {
	sent := 0
	for _, p := range h.others(from) {
		if err := p.handler.SendValue(p.ctx, id, value); err != nil {
			logger.DebugCF("ws", "Relay failed", map[string]interface{}{
				"peer":  p.ID,
				"id":    id.String(),
				"error": err.Error(),
			})
			continue
		}
		sent++
	}
	return sent
}
