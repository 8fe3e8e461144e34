// Package server exposes the session manager to a browser UI over a
// WebSocket control channel, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/livevoice/config"
	"github.com/room4-2/livevoice/messages"
	"github.com/room4-2/livevoice/metrics"
	"github.com/room4-2/livevoice/session"
)

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	manager    *session.Manager
	hub        *Hub
	metrics    *metrics.Metrics
	config     *config.Config
	log        *slog.Logger

	// baseCtx bounds session starts requested by clients.
	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	startMu  sync.Mutex
	stopping bool
	starts   sync.WaitGroup
}

// New creates a server for manager and subscribes its hub to session events.
func New(cfg *config.Config, manager *session.Manager, mx *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager: manager,
		hub:     NewHub(logger),
		metrics: mx,
		config:  cfg,
		log:     logger,
		baseCtx: ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4 * 1024,
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	s.unsubscribe = manager.Subscribe(s.hub)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Handler(),
		// No ReadTimeout/WriteTimeout: they would cut long-lived WebSocket
		// connections. The client pumps set their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Start begins listening for connections. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.log.Info("🚀 WebSocket server starting", "port", s.config.Port)
	s.log.Info("📡 WebSocket endpoint", "url", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the session, disconnects every client and stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("🛑 Shutting down server...")
	s.startMu.Lock()
	s.stopping = true
	s.startMu.Unlock()

	s.cancel()
	s.manager.Stop()
	s.starts.Wait()
	s.unsubscribe()
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.config.KeepAlivePeriod, s.log)
	s.hub.add(c)
	s.log.Info("✅ UI client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	s.greet(c)
	c.readPump(s.handleControl)

	s.hub.remove(c)
	s.log.Info("🔌 UI client disconnected", "client", c.id)
}

// greet sends the current state and transcript to a newly connected client.
func (s *Server) greet(c *client) {
	id := s.manager.SessionID()
	state := s.manager.State()
	c.send(messages.NewStateMessage(id, state.String(), ""))
	if state == session.StateError {
		if err := s.manager.LastError(); err != nil {
			c.send(messages.NewErrorMessage(id, ErrorCode(err), err.Error()))
		}
	}
	c.send(messages.NewTranscriptMessage(id, s.manager.Transcript()))
}

func (s *Server) handleControl(c *client, ctrl *messages.ControlPayload) {
	switch ctrl.Action {
	case messages.ActionStart:
		s.startSession()
	case messages.ActionStop:
		s.manager.Stop()
	case messages.ActionPing:
		c.send(messages.NewStatusMessage(s.manager.SessionID(), "pong", ""))
	}
}

// startSession runs Start in the background so the client can still send
// stop while the handshake is in flight. Failures reach clients as state
// and error messages through the hub.
func (s *Server) startSession() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.stopping {
		return
	}
	s.starts.Add(1)
	go func() {
		defer s.starts.Done()
		if err := s.manager.Start(s.baseCtx); err != nil && !errors.Is(err, session.ErrSessionStopped) {
			s.log.Warn("⚠️ session start failed", "error", err)
		}
	}()
}

type healthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	Clients   int    `json:"clients"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		State:     s.manager.State().String(),
		SessionID: s.manager.SessionID(),
		Clients:   s.hub.Len(),
	}
	if err := s.manager.LastError(); err != nil {
		resp.Error = err.Error()
	}
	body, err := sonic.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
