// Package api provides the HTTP surface of the chatbot: the websocket chat
// endpoint plus REST routes for health, the plan catalog, conversation
// lookups and usage statistics.
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (recovery, logging, CORS)
//   - health.go: liveness probe
//   - plans.go: plan catalog endpoint
//   - conversations.go: conversation lookup endpoints
//   - stats.go: aggregate statistics endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/identity"
	"github.com/yerroong/lg-chatbot/internal/log"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow clients from
	// pinning connections.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the keep-alive idle ceiling.
	IdleTimeout = 120 * time.Second
)

// ConversationReader is the read-only store surface the REST routes need.
// These lookups never touch the streaming write path.
type ConversationReader interface {
	Get(ctx context.Context, sessionID string) (*conversation.Conversation, error)
	TotalCount(ctx context.Context) (int64, error)
	ActiveCount(ctx context.Context, window time.Duration) (int64, error)
	ActiveStats(ctx context.Context, window time.Duration) (*conversation.ActiveStats, error)
	AddressUsage(ctx context.Context, address string) (*conversation.AddressUsage, error)
}

// Config holds the API server settings.
type Config struct {
	Mode        identity.Mode
	TrustProxy  bool
	CORSOrigins []string
}

// Server assembles the route table. The websocket handler is constructed by
// the caller and mounted at /ws.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger
}

// NewServer registers all routes.
func NewServer(store ConversationReader, wsHandler http.Handler, cfg Config, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, cfg: cfg, logger: logger.With("component", "api")}

	mux.Handle("GET /ws", wsHandler)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/plans", s.handlePlans)

	conv := &conversationHandler{store: store, cfg: cfg, logger: s.logger}
	mux.HandleFunc("GET /api/conversations/{sessionID}", conv.handleBySession)
	mux.HandleFunc("GET /api/conversations/ip/{ip}", conv.handleByAddress)

	stats := &statsHandler{store: store, logger: s.logger}
	mux.HandleFunc("GET /api/admin/stats", stats.handleStats)
	mux.HandleFunc("GET /api/admin/usage/{ip}", stats.handleUsage)

	return s
}

// Handler returns the route table with middleware applied.
// Middleware order: recovery → logging → CORS → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cfg.CORSOrigins),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully. Streaming responses run under the websocket's own
// deadlines, so the server sets no global write timeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
