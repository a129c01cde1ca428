// Package provider abstracts the completion backend behind a small streaming
// interface so the chat engine can be tested without network access.
package provider

import "context"

// Message is one turn of model input.
type Message struct {
	Role    string
	Content string
}

// Input roles understood by the completion backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Streamer produces a completion for the given transcript, invoking fn once
// per content fragment in arrival order. Fragments are forwarded as received,
// never batched or reordered. A non-nil error from fn aborts the stream and
// is returned unchanged.
type Streamer interface {
	StreamCompletion(ctx context.Context, messages []Message, fn func(chunk string) error) error
}
