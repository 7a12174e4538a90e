// vfrnav - companion bridge server
// Serves the EFB WebSocket bridge plus a small REST surface for records and popups
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vfrnav/vfrnav/pkg/config"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/popup"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
	"github.com/vfrnav/vfrnav/pkg/store"
)

// Server is the companion side of the bridge: the "top window" EFB panels
// talk to.
type Server struct {
	config    *config.Config
	records   *store.RecordStore
	settings  *store.SettingsStore
	popups    *popup.Scheduler
	hub       *WSHub
	metar     *MetarPoller
	noticeTTL time.Duration
	startTime time.Time
	server    *http.Server
	listener  net.Listener

	mu      sync.RWMutex
	schemas map[protocol.MessageID]*schema.Schema
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Records  *store.RecordStore
	Settings *store.SettingsStore
	Popups   *popup.Scheduler
	// Schemas defaults to protocol.Schemas().
	Schemas map[protocol.MessageID]*schema.Schema
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Records == nil || deps.Settings == nil || deps.Popups == nil {
		return nil, errors.New("api: records, settings and popups are required")
	}
	s := &Server{
		config:    cfg,
		records:   deps.Records,
		settings:  deps.Settings,
		popups:    deps.Popups,
		schemas:   deps.Schemas,
		noticeTTL: time.Duration(cfg.Popup.NoticeTTLSeconds) * time.Second,
		startTime: time.Now(),
	}
	if s.schemas == nil {
		s.schemas = protocol.Schemas()
	}
	s.hub = NewWSHub(s)

	if cfg.Metar.Enabled {
		p, err := NewMetarPoller(cfg.Metar, s.hub)
		if err != nil {
			return nil, err
		}
		s.metar = p
	}
	return s, nil
}

// SetSchemas swaps the shape table. Peers attached afterwards use the new
// table; live peers keep the one they started with.
func (s *Server) SetSchemas(table map[protocol.MessageID]*schema.Schema) {
	if table == nil {
		table = protocol.Schemas()
	}
	s.mu.Lock()
	s.schemas = table
	s.mu.Unlock()
	logger.InfoCF("api", "Schema table replaced", map[string]interface{}{
		"messages": len(table),
	})
}

// Schemas returns the table new peers validate against.
func (s *Server) Schemas() map[protocol.MessageID]*schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemas
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/records", s.handleRecords)
	mux.HandleFunc("GET /api/records/{id}", s.handleRecordPositions)
	mux.HandleFunc("GET /api/popup", s.handlePopup)
	mux.HandleFunc("POST /api/popup/close", s.handlePopupClose)

	// EFB panels connect here
	mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)

	return s.corsMiddleware(authMiddleware(s.config.Bridge.APIKey, mux))
}

// Listen binds the configured host:port and returns the bound address.
// Nothing is served until Serve.
func (s *Server) Listen() (net.Addr, error) {
	addr := s.config.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	logger.InfoCF("api", "Bridge server listening", map[string]interface{}{
		"addr": ln.Addr().String(),
	})
	return ln.Addr(), nil
}

// Serve runs the HTTP server, the hub and the metar poller until ctx ends
// or the server fails. When it returns every peer has detached.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("api: Serve called before Listen")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	if s.metar != nil {
		g.Go(func() error {
			s.metar.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		err := s.server.Serve(s.listener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.ErrorCF("api", "Server error", map[string]interface{}{
			"error": err.Error(),
		})
		s.raise(popup.Fatal, "Bridge stopped", err.Error())
		return fmt.Errorf("serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Stop()
	})
	return g.Wait()
}

// Stop gracefully shuts down the HTTP server. WebSocket peers are closed by
// the hub when the Serve context ends.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.config.OriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.records.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"uptime":    formatDuration(time.Since(s.startTime)),
		"peers":     s.hub.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.PlaneRecords{Records: records})
}

func (s *Server) handleRecordPositions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.records.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	positions, err := s.records.Positions(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.PlanePoses{ID: id, Positions: positions})
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.popups.Current())
}

// handlePopupClose closes the popup named by {"id": ...}, or the one
// showing when no id is given.
func (s *Server) handlePopupClose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if req.ID == "" {
		if !s.popups.CloseCurrent() {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no popup showing"})
			return
		}
	} else {
		p, err := s.popups.Get(req.ID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "popup not found"})
			return
		}
		p.Close()
	}
	writeJSON(w, http.StatusOK, s.popups.Current())
}

// PopupContent is what the server puts on its own popup scheduler.
type PopupContent struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// raise queues a server popup. Scheduler errors are logged only.
func (s *Server) raise(level popup.Level, title, message string) *popup.Request {
	req, err := s.popups.Add(PopupContent{Title: title, Message: message}, level)
	if err != nil {
		logger.WarnCF("api", "Popup not raised", map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
		return nil
	}
	return req
}

// notify raises a popup that closes itself after noticeTTL, whether or not
// it was ever shown.
func (s *Server) notify(level popup.Level, title, message string) {
	req := s.raise(level, title, message)
	if req == nil || s.noticeTTL <= 0 {
		return
	}
	timer := time.AfterFunc(s.noticeTTL, req.Close)
	go func() {
		<-req.Done()
		timer.Stop()
	}()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
