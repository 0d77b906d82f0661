// Package gateway is the HTTP front door: the WebSocket endpoint for web
// clients, the health check, and the webhook endpoints.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/pkg/protocol"
)

type Config struct {
	Host           string
	Port           int
	Token          string
	AllowedOrigins []string
}

// Server handles WebSocket and webhook connections.
type Server struct {
	cfg   Config
	bus   bus.MessageBus
	hooks *HookHandler

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg Config, msgBus bus.MessageBus) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     msgBus,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetHooks attaches the webhook handler before BuildMux.
func (s *Server) SetHooks(h *HookHandler) { s.hooks = h }

// checkOrigin validates the Origin header against the allowlist. No
// configured origins allows everything; an empty Origin header (CLI, SDK)
// is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.hooks != nil {
		s.hooks.Register(mux)
	}
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// Broadcast pushes an event to every authenticated client.
func (s *Server) Broadcast(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Authed() {
			c.SendEvent(event)
		}
	}
}

// DeliverChat sends an assistant message to every client attached to chatID.
// For the web channel the chat id is the username, so all of a user's open
// terminals see the reply.
func (s *Server) DeliverChat(_ context.Context, chatID, text string) error {
	ev := protocol.NewEvent(protocol.EventChatMessage, protocol.ChatMessagePayload{
		ChatID: chatID,
		Text:   text,
	})
	delivered := 0
	s.mu.RLock()
	for _, c := range s.clients {
		if c.Username() == chatID {
			c.SendEvent(ev)
			delivered++
		}
	}
	s.mu.RUnlock()
	if delivered == 0 {
		return fmt.Errorf("no connected clients for %s", chatID)
	}
	return nil
}

// DeliverEvent sends an event to every client attached to chatID.
func (s *Server) DeliverEvent(chatID string, event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Username() == chatID {
			c.SendEvent(event)
		}
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("client disconnected", "id", c.id)
}
