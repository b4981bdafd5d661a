// Package api exposes the conversation service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/sundevil-helper/internal/buildinfo"
	"github.com/nugget/sundevil-helper/internal/connwatch"
	"github.com/nugget/sundevil-helper/internal/conversation"
	"github.com/nugget/sundevil-helper/internal/events"
)

// HeaderConversationID carries the conversation id, set by the
// authenticating proxy in front of this server.
const HeaderConversationID = "X-Conversation-ID"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// HealthReporter reports the reachability of upstream providers.
// [*connwatch.Monitor] satisfies it.
type HealthReporter interface {
	Status() []connwatch.Status
	Ready() bool
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	chat     *conversation.Service
	bus      *events.Bus
	health   HealthReporter
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. bus may be nil, which disables
// the event stream.
func NewServer(address string, port int, chat *conversation.Service, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		chat:    chat,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards on other origins may watch the stream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetHealth attaches a dependency monitor to the health endpoint.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// Handler returns the routed, logged handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("POST /api/chat/ask", s.handleAsk)
	mux.HandleFunc("GET /api/chat/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/chat/history", s.handleClear)
	mux.HandleFunc("GET /api/chat/summary", s.handleSummary)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Live operational events
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start serves HTTP until ctx is cancelled or the listener fails. It
// returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A question may take several reasoner and search round trips.
		WriteTimeout: 180 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"conversation_id", r.Header.Get(HeaderConversationID),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Sun Devil Helper",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// healthResponse is served by GET /health. The server answers 200 even
// when degraded: it is up, and questions fail fast with a 500 until the
// provider returns.
type healthResponse struct {
	Status       string             `json:"status"`
	Uptime       string             `json:"uptime"`
	Dependencies []connwatch.Status `json:"dependencies,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "healthy",
		Uptime: buildinfo.Uptime().Round(time.Second).String(),
	}
	if s.health != nil {
		resp.Dependencies = s.health.Status()
		if !s.health.Ready() {
			resp.Status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// errorResponse writes {"detail": message} with the given status.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"detail": message}, s.logger)
}
