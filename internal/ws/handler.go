// Package ws exposes the chat protocol over a websocket endpoint. Each
// connection derives its session identity from the client address and
// user agent, then runs a single-threaded event loop until disconnect.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yerroong/lg-chatbot/internal/chat"
	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/identity"
	"github.com/yerroong/lg-chatbot/internal/log"
	"github.com/yerroong/lg-chatbot/internal/wire"
)

const (
	// handshakeTimeout is the ceiling on connection establishment. A client
	// that cannot complete the upgrade within it must fall back to a
	// non-loading state instead of hanging.
	handshakeTimeout = 15 * time.Second

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	maxMessageSize = 64 * 1024
)

const (
	msgMalformedEvent = "잘못된 요청 형식입니다."
	msgRateLimited    = "메시지를 너무 빨리 보내고 있습니다. 잠시 후 다시 시도해주세요."
)

// Chat is the protocol core the transport drives. *chat.Engine satisfies it.
type Chat interface {
	SendHistory(ctx context.Context, sessionID string, origin conversation.Origin, em chat.Emitter) error
	HandleUserMessage(ctx context.Context, sessionID string, origin conversation.Origin, content, clientToken string, em chat.Emitter) error
	Clear(ctx context.Context, sessionID string, em chat.Emitter) error
}

// Config holds the transport settings.
type Config struct {
	Mode       identity.Mode
	TrustProxy bool

	// AllowedOrigins whitelists browser origins for the upgrade. Empty
	// means same-origin only (gorilla's default check).
	AllowedOrigins []string

	// MessageRate and MessageBurst bound user-message throughput per
	// connection. A zero MessageRate disables limiting.
	MessageRate  rate.Limit
	MessageBurst int
}

// Handler upgrades HTTP requests to websocket sessions. It owns the
// connection lifecycle explicitly; construct it once at startup and mount it
// on the server mux.
type Handler struct {
	engine   Chat
	cfg      Config
	upgrader websocket.Upgrader
	logger   log.Logger
}

// NewHandler creates a websocket Handler.
func NewHandler(engine Chat, cfg Config, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}

	h := &Handler{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := map[string]bool{}
		for _, o := range cfg.AllowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	return h
}

// ServeHTTP upgrades the connection and runs its event loop to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	address := identity.ClientAddress(r, h.cfg.Mode, h.cfg.TrustProxy)
	userAgent := r.Header.Get("User-Agent")
	sessionID := identity.Identify(address, userAgent, h.cfg.Mode)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "address", address, "error", err)
		return
	}

	sess := &session{
		conn:      conn,
		sessionID: sessionID,
		origin:    conversation.Origin{Address: address, UserAgent: userAgent},
		logger:    h.logger.With("session_id", sessionID),
	}
	if h.cfg.MessageRate > 0 {
		sess.limiter = rate.NewLimiter(h.cfg.MessageRate, h.cfg.MessageBurst)
	}

	sess.logger.Info("client connected", "address", address)
	h.serve(r.Context(), sess)
	sess.logger.Info("client disconnected", "address", address)
}

// serve runs the read loop. Events are handled sequentially; a turn in
// progress blocks further reads, which matches the client contract of
// disabling input while streaming.
func (h *Handler) serve(ctx context.Context, sess *session) {
	defer func() { _ = sess.conn.Close() }()
	sess.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("read failed", "error", err)
			}
			return
		}

		ev, err := wire.DecodeClient(data)
		if err != nil {
			sess.logger.Warn("rejecting frame", "error", err)
			_ = sess.Emit(wire.Error{Message: msgMalformedEvent, Details: err.Error()})
			continue
		}

		h.dispatch(ctx, sess, ev)
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *session, ev wire.ClientEvent) {
	switch ev := ev.(type) {
	case wire.InitSession:
		if err := h.engine.SendHistory(ctx, sess.sessionID, sess.origin, sess); err != nil {
			sess.logger.Error("sending history failed", "error", err)
		}

	case wire.UserMessage:
		if sess.limiter != nil && !sess.limiter.Allow() {
			_ = sess.Emit(wire.Error{Message: msgRateLimited})
			return
		}
		if err := h.engine.HandleUserMessage(ctx, sess.sessionID, sess.origin, ev.Content, ev.ClientToken, sess); err != nil {
			// Already surfaced to the client as an error event.
			sess.logger.Error("turn failed", "error", err)
		}

	case wire.ClearConversation:
		if err := h.engine.Clear(ctx, sess.sessionID, sess); err != nil {
			sess.logger.Error("clear failed", "error", err)
		}
	}
}

// session binds one websocket connection to its derived identity and
// serialises frame writes so the engine can emit from any call path.
type session struct {
	conn      *websocket.Conn
	sessionID string
	origin    conversation.Origin
	limiter   *rate.Limiter
	logger    log.Logger

	writeMu sync.Mutex
}

// Emit implements chat.Emitter. Writes are ordered by the mutex; emission
// order equals call order.
func (s *session) Emit(ev wire.ServerEvent) error {
	data, err := wire.EncodeServer(ev)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("emitting event: %w", err)
	}
	return nil
}
