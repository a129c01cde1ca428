package testutil

import (
	"context"
	"sync"

	"github.com/yerroong/lg-chatbot/internal/provider"
)

// ScriptedProvider replays a fixed sequence of content fragments, optionally
// failing partway through. It records every transcript it is asked to
// complete so tests can assert on the model input.
type ScriptedProvider struct {
	mu sync.Mutex

	// Chunks are emitted in order, one callback invocation each.
	Chunks []string

	// FailAfter, when >= 0, stops the stream with FailErr after that many
	// chunks have been delivered. FailAfter 0 fails before any content.
	FailAfter int
	FailErr   error

	calls [][]provider.Message
}

// NewScriptedProvider returns a provider that streams the given fragments and
// never fails.
func NewScriptedProvider(chunks ...string) *ScriptedProvider {
	return &ScriptedProvider{Chunks: chunks, FailAfter: -1}
}

// StreamCompletion implements provider.Streamer.
func (p *ScriptedProvider) StreamCompletion(ctx context.Context, messages []provider.Message, fn func(chunk string) error) error {
	p.mu.Lock()
	p.calls = append(p.calls, append([]provider.Message(nil), messages...))
	failAfter, failErr, chunks := p.FailAfter, p.FailErr, p.Chunks
	p.mu.Unlock()

	for i, chunk := range chunks {
		if failAfter >= 0 && i >= failAfter {
			return failErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if failAfter >= 0 && failAfter >= len(chunks) {
		return failErr
	}
	return nil
}

// Calls returns the transcripts passed to StreamCompletion, oldest first.
func (p *ScriptedProvider) Calls() [][]provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]provider.Message(nil), p.calls...)
}
