// Package chat implements the streaming conversation core: one user turn is
// persisted, the full transcript plus the catalog system prompt is sent to
// the completion provider, and the reply streams back as ordered fragments
// before being persisted as the assistant turn.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/log"
	"github.com/yerroong/lg-chatbot/internal/provider"
	"github.com/yerroong/lg-chatbot/internal/wire"
)

// ErrEmptyMessage rejects a user message that is empty after trimming.
// Validation happens before anything is persisted.
var ErrEmptyMessage = errors.New("empty message")

// User-facing error texts.
const (
	msgEmptyMessage    = "메시지를 입력해주세요."
	msgProcessingError = "메시지 처리 중 오류가 발생했습니다."
	msgClearError      = "대화 초기화 중 오류가 발생했습니다."
)

// Store is the persistence surface the engine needs. *conversation.Store
// satisfies it; tests use an in-memory implementation.
type Store interface {
	Load(ctx context.Context, sessionID string, origin conversation.Origin) (*conversation.Conversation, error)
	AppendUserMessage(ctx context.Context, sessionID, content string, origin conversation.Origin) (*conversation.Message, error)
	AppendAssistantMessage(ctx context.Context, sessionID, content string) (*conversation.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// Emitter delivers server events to one client connection. Implementations
// must preserve emission order.
type Emitter interface {
	Emit(ev wire.ServerEvent) error
}

// Engine drives the per-turn state machine for every session. At most one
// turn runs per session id at a time; turns for different sessions proceed
// independently.
type Engine struct {
	store        Store
	streamer     provider.Streamer
	systemPrompt string
	logger       log.Logger

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// New creates an Engine. The system prompt is fixed for the engine's
// lifetime.
func New(store Store, streamer provider.Streamer, systemPrompt string, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		store:        store,
		streamer:     streamer,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "chat"),
		turns:        make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serialising turns for one session id.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.turns[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.turns[sessionID] = l
	}
	return l
}

// SendHistory loads the persisted transcript and emits it as a
// conversation-history event. Absence and load failures both yield an empty
// history; the client must always be able to render.
func (e *Engine) SendHistory(ctx context.Context, sessionID string, origin conversation.Origin, em Emitter) error {
	messages := []wire.Message{}

	conv, err := e.store.Load(ctx, sessionID, origin)
	switch {
	case err != nil:
		e.logger.Error("loading history failed", "session_id", sessionID, "error", err)
	case conv != nil:
		for _, m := range conv.Messages {
			messages = append(messages, toWire(m))
		}
	}

	return em.Emit(wire.ConversationHistory{Messages: messages})
}

// HandleUserMessage runs one full turn: persist the user message, confirm it,
// stream the assistant reply and persist it. Every failure surfaces as an
// error event on em; once a stream-start has been emitted, a terminal event
// (stream-end or error) is emitted on every path out of this function.
func (e *Engine) HandleUserMessage(ctx context.Context, sessionID string, origin conversation.Origin, content, clientToken string, em Emitter) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		_ = em.Emit(wire.Error{Message: msgEmptyMessage})
		return ErrEmptyMessage
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	userMsg, err := e.store.AppendUserMessage(ctx, sessionID, trimmed, origin)
	if err != nil {
		e.logger.Error("persisting user message failed", "session_id", sessionID, "error", err)
		_ = em.Emit(wire.Error{Message: msgProcessingError, Details: err.Error()})
		return err
	}

	if err := em.Emit(wire.UserMessageConfirmed{Message: toWire(*userMsg), ClientToken: clientToken}); err != nil {
		return err
	}

	conv, err := e.store.Load(ctx, sessionID, origin)
	if err != nil || conv == nil {
		if err == nil {
			err = conversation.ErrNotFound
		}
		e.logger.Error("loading transcript failed", "session_id", sessionID, "error", err)
		_ = em.Emit(wire.Error{Message: msgProcessingError, Details: err.Error()})
		return err
	}

	prompt := make([]provider.Message, 0, len(conv.Messages)+1)
	prompt = append(prompt, provider.Message{Role: provider.RoleSystem, Content: e.systemPrompt})
	for _, m := range conv.Messages {
		prompt = append(prompt, provider.Message{Role: m.Role, Content: m.Content})
	}

	streamID := "stream-" + uuid.NewString()
	if err := em.Emit(wire.StreamStart{MessageID: streamID, Timestamp: time.Now()}); err != nil {
		return err
	}

	return e.streamReply(ctx, sessionID, prompt, em)
}

// streamReply runs the Streaming and Finalizing phases. The client has
// already seen stream-start, so whatever happens it must see exactly one
// terminal event.
func (e *Engine) streamReply(ctx context.Context, sessionID string, prompt []provider.Message, em Emitter) (err error) {
	terminated := false

	// Backstop for exits that missed their explicit terminal emit,
	// including panics out of the provider callback path.
	defer func() {
		if !terminated {
			_ = em.Emit(wire.Error{Message: msgProcessingError})
		}
	}()

	var reply strings.Builder
	err = e.streamer.StreamCompletion(ctx, prompt, func(chunk string) error {
		reply.WriteString(chunk)
		return em.Emit(wire.StreamChunk{Content: chunk})
	})
	if err != nil {
		e.logger.Error("completion stream failed", "session_id", sessionID, "error", err)
		terminated = true
		_ = em.Emit(wire.Error{Message: msgProcessingError, Details: err.Error()})
		return err
	}

	asstMsg, err := e.store.AppendAssistantMessage(ctx, sessionID, reply.String())
	if err != nil {
		e.logger.Error("persisting assistant message failed", "session_id", sessionID, "error", err)
		terminated = true
		_ = em.Emit(wire.Error{Message: msgProcessingError, Details: err.Error()})
		return err
	}

	terminated = true
	if err := em.Emit(wire.StreamEnd{Message: toWire(*asstMsg)}); err != nil {
		return err
	}

	e.logger.Info("turn completed",
		"session_id", sessionID, "message_id", asstMsg.ID, "reply_len", reply.Len())
	return nil
}

// Clear deletes the conversation and acknowledges with a
// conversation-cleared event. Clearing an absent conversation still succeeds.
func (e *Engine) Clear(ctx context.Context, sessionID string, em Emitter) error {
	if err := e.store.Clear(ctx, sessionID); err != nil {
		e.logger.Error("clearing conversation failed", "session_id", sessionID, "error", err)
		_ = em.Emit(wire.Error{Message: msgClearError, Details: err.Error()})
		return err
	}
	return em.Emit(wire.ConversationCleared{})
}

func toWire(m conversation.Message) wire.Message {
	return wire.Message{
		ID:        m.ID.String(),
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
