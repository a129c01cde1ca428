// Package wire defines the bidirectional event protocol between the chat
// server and its clients.
//
// Events travel as a JSON envelope {"type": ..., "payload": ...} with one Go
// type per event kind. The decoders reject unknown tags and payloads that do
// not match their tag, so a malformed frame never reaches the protocol core.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags one event kind in the envelope.
type EventType string

// Client-to-server events.
const (
	TypeInitSession       EventType = "init-session"
	TypeUserMessage       EventType = "user-message"
	TypeClearConversation EventType = "clear-conversation"
)

// Server-to-client events.
const (
	TypeConversationHistory  EventType = "conversation-history"
	TypeUserMessageConfirmed EventType = "user-message-confirmed"
	TypeStreamStart          EventType = "stream-start"
	TypeStreamChunk          EventType = "stream-chunk"
	TypeStreamEnd            EventType = "stream-end"
	TypeConversationCleared  EventType = "conversation-cleared"
	TypeError                EventType = "error"
)

// Sentinel errors returned by the decoders.
var (
	// ErrUnknownEvent indicates an envelope carried an unrecognised type tag.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrMalformedPayload indicates the payload did not match its type tag.
	ErrMalformedPayload = errors.New("malformed event payload")
)

// Message is the wire form of one persisted conversation message.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ClientEvent is the closed set of events a client may send.
type ClientEvent interface {
	Type() EventType
}

// InitSession asks the server to (re)load the conversation for this
// connection's session identity. Sent once after every (re)connect.
type InitSession struct{}

func (InitSession) Type() EventType { return TypeInitSession }

// UserMessage carries one user turn. ClientToken is a client-generated
// correlation token echoed back in the confirmation so the client can match
// its optimistic copy even when two identical messages are sent in a row.
type UserMessage struct {
	Content     string `json:"content"`
	ClientToken string `json:"clientToken,omitempty"`
}

func (UserMessage) Type() EventType { return TypeUserMessage }

// ClearConversation deletes the conversation for this session.
type ClearConversation struct{}

func (ClearConversation) Type() EventType { return TypeClearConversation }

// ServerEvent is the closed set of events the server may emit.
type ServerEvent interface {
	Type() EventType
}

// ConversationHistory replaces the client's view wholesale. Sent in reply to
// InitSession; an absent conversation yields an empty list, never an error.
type ConversationHistory struct {
	Messages []Message `json:"messages"`
}

func (ConversationHistory) Type() EventType { return TypeConversationHistory }

// UserMessageConfirmed acknowledges a persisted user turn, carrying its
// durable identity and echoing the client's correlation token.
type UserMessageConfirmed struct {
	Message     Message `json:"message"`
	ClientToken string  `json:"clientToken,omitempty"`
}

func (UserMessageConfirmed) Type() EventType { return TypeUserMessageConfirmed }

// StreamStart announces an assistant reply. MessageID is provisional; the
// durable message arrives with StreamEnd.
type StreamStart struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

func (StreamStart) Type() EventType { return TypeStreamStart }

// StreamChunk carries one incremental fragment of the assistant reply, in
// provider order. The client accumulates; fragments are never batched.
type StreamChunk struct {
	Content string `json:"content"`
}

func (StreamChunk) Type() EventType { return TypeStreamChunk }

// StreamEnd closes a stream with the final persisted assistant message.
type StreamEnd struct {
	Message Message `json:"message"`
}

func (StreamEnd) Type() EventType { return TypeStreamEnd }

// ConversationCleared acknowledges a ClearConversation.
type ConversationCleared struct{}

func (ConversationCleared) Type() EventType { return TypeConversationCleared }

// Error reports a per-request failure. It is also the terminal event for a
// stream that cannot reach StreamEnd: clients must resolve any open stream
// state when they receive it.
type Error struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (Error) Type() EventType { return TypeError }

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeClient marshals a client event into its envelope form.
func EncodeClient(ev ClientEvent) ([]byte, error) {
	return encode(ev.Type(), ev)
}

// EncodeServer marshals a server event into its envelope form.
func EncodeServer(ev ServerEvent) ([]byte, error) {
	return encode(ev.Type(), ev)
}

func encode(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	// Empty-struct payloads collapse to the bare tag.
	if string(raw) == "{}" {
		raw = nil
	}
	return json.Marshal(envelope{Type: t, Payload: raw})
}

// DecodeClient parses a frame sent by a client. Server-to-client tags are
// rejected: a client must never speak them.
func DecodeClient(data []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch env.Type {
	case TypeInitSession:
		return InitSession{}, nil
	case TypeUserMessage:
		var ev UserMessage
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeClearConversation:
		return ClearConversation{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch env.Type {
	case TypeConversationHistory:
		var ev ConversationHistory
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeUserMessageConfirmed:
		var ev UserMessageConfirmed
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeStreamStart:
		var ev StreamStart
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeStreamChunk:
		var ev StreamChunk
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeStreamEnd:
		var ev StreamEnd
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeConversationCleared:
		return ConversationCleared{}, nil
	case TypeError:
		var ev Error
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodePayload(env envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformedPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, env.Type, err)
	}
	return nil
}
