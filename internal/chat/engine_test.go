package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/provider"
	"github.com/yerroong/lg-chatbot/internal/testutil"
	"github.com/yerroong/lg-chatbot/internal/wire"
)

const testSessionID = "ip_0011223344556677"

var testOrigin = conversation.Origin{Address: "203.0.113.7", UserAgent: "Chrome/120.0"}

// recordingEmitter captures emitted events in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []wire.ServerEvent
}

func (r *recordingEmitter) Emit(ev wire.ServerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) Events() []wire.ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.ServerEvent(nil), r.events...)
}

// streamerFunc adapts a function to provider.Streamer.
type streamerFunc func(ctx context.Context, msgs []provider.Message, fn func(string) error) error

func (f streamerFunc) StreamCompletion(ctx context.Context, msgs []provider.Message, fn func(string) error) error {
	return f(ctx, msgs, fn)
}

func newTestEngine(store Store, streamer provider.Streamer) *Engine {
	return New(store, streamer, "당신은 LG유플러스 요금제 상담사입니다.", nil)
}

func TestHandleUserMessageFullTurn(t *testing.T) {
	store := testutil.NewMemoryStore()
	prov := testutil.NewScriptedProvider("안", "녕하세요")
	engine := newTestEngine(store, prov)
	em := &recordingEmitter{}

	err := engine.HandleUserMessage(context.Background(), testSessionID, testOrigin, "안녕", "tok-1", em)
	require.NoError(t, err)

	events := em.Events()
	require.Len(t, events, 5)

	confirmed, ok := events[0].(wire.UserMessageConfirmed)
	require.True(t, ok, "first event must be the confirmation, got %T", events[0])
	assert.Equal(t, "안녕", confirmed.Message.Content)
	assert.Equal(t, wire.RoleUser, confirmed.Message.Role)
	assert.Equal(t, "tok-1", confirmed.ClientToken)
	assert.NotEmpty(t, confirmed.Message.ID)
	assert.False(t, confirmed.Message.Timestamp.IsZero())

	start, ok := events[1].(wire.StreamStart)
	require.True(t, ok, "second event must be stream-start, got %T", events[1])
	assert.True(t, strings.HasPrefix(start.MessageID, "stream-"))
	assert.False(t, start.Timestamp.IsZero())

	assert.Equal(t, wire.StreamChunk{Content: "안"}, events[2])
	assert.Equal(t, wire.StreamChunk{Content: "녕하세요"}, events[3])

	end, ok := events[4].(wire.StreamEnd)
	require.True(t, ok, "last event must be stream-end, got %T", events[4])
	assert.Equal(t, "안녕하세요", end.Message.Content)
	assert.Equal(t, wire.RoleAssistant, end.Message.Role)
	assert.NotEqual(t, start.MessageID, end.Message.ID, "stream-end carries the durable id")

	conv, err := store.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "안녕", conv.Messages[0].Content)
	assert.Equal(t, "안녕하세요", conv.Messages[1].Content)
	assert.Equal(t, 2, conv.Metadata.TotalInteractions)
}

func TestHandleUserMessageEmptyRejected(t *testing.T) {
	store := testutil.NewMemoryStore()
	engine := newTestEngine(store, testutil.NewScriptedProvider("unused"))
	em := &recordingEmitter{}

	err := engine.HandleUserMessage(context.Background(), testSessionID, testOrigin, "   \n\t ", "", em)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	events := em.Events()
	require.Len(t, events, 1)
	assert.Equal(t, wire.TypeError, events[0].Type())

	// Nothing was persisted.
	conv, err := store.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestPromptIsSystemPlusTranscript(t *testing.T) {
	store := testutil.NewMemoryStore()
	prov := testutil.NewScriptedProvider("답변")
	engine := newTestEngine(store, prov)
	em := &recordingEmitter{}

	ctx := context.Background()
	require.NoError(t, engine.HandleUserMessage(ctx, testSessionID, testOrigin, "첫 질문", "", em))
	require.NoError(t, engine.HandleUserMessage(ctx, testSessionID, testOrigin, "두번째 질문", "", em))

	calls := prov.Calls()
	require.Len(t, calls, 2)

	second := calls[1]
	require.Len(t, second, 4) // system + user, assistant, user
	assert.Equal(t, provider.RoleSystem, second[0].Role)
	assert.Contains(t, second[0].Content, "상담사")
	assert.Equal(t, "첫 질문", second[1].Content)
	assert.Equal(t, "답변", second[2].Content)
	assert.Equal(t, "두번째 질문", second[3].Content)
}

func TestChunksAccumulateToPersistedContent(t *testing.T) {
	chunks := []string{"데이터 ", "무제한 ", "요금제는 ", "85,000원입니다."}
	store := testutil.NewMemoryStore()
	engine := newTestEngine(store, testutil.NewScriptedProvider(chunks...))
	em := &recordingEmitter{}

	require.NoError(t, engine.HandleUserMessage(context.Background(), testSessionID, testOrigin, "요금제 추천해줘", "", em))

	var streamed strings.Builder
	for _, ev := range em.Events() {
		if c, ok := ev.(wire.StreamChunk); ok {
			streamed.WriteString(c.Content)
		}
	}

	conv, err := store.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, streamed.String(), conv.Messages[1].Content,
		"emitted fragments must concatenate to the persisted reply")
}

func TestProviderFailureStillTerminates(t *testing.T) {
	store := testutil.NewMemoryStore()
	prov := testutil.NewScriptedProvider("partial")
	prov.FailAfter = 1
	prov.FailErr = errors.New("upstream reset")
	engine := newTestEngine(store, prov)
	em := &recordingEmitter{}

	err := engine.HandleUserMessage(context.Background(), testSessionID, testOrigin, "질문", "", em)
	require.Error(t, err)

	events := em.Events()
	require.NotEmpty(t, events)

	// The stream opened, so the last event must be terminal, and here it
	// cannot be stream-end.
	last := events[len(events)-1]
	assert.Equal(t, wire.TypeError, last.Type())
	for _, ev := range events {
		assert.NotEqual(t, wire.TypeStreamEnd, ev.Type())
	}

	// The user turn survives; the partial reply was never persisted.
	conv, err := store.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, wire.RoleUser, conv.Messages[0].Role)
}

func TestConversationVanishingMidStream(t *testing.T) {
	store := testutil.NewMemoryStore()
	engine := newTestEngine(store, streamerFunc(
		func(ctx context.Context, _ []provider.Message, fn func(string) error) error {
			if err := fn("지워지기 전 답변"); err != nil {
				return err
			}
			// The transcript disappears while the reply is in flight.
			return store.Clear(ctx, testSessionID)
		}))
	em := &recordingEmitter{}

	err := engine.HandleUserMessage(context.Background(), testSessionID, testOrigin, "질문", "", em)
	assert.ErrorIs(t, err, conversation.ErrNotFound)

	events := em.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, wire.TypeError, events[len(events)-1].Type())

	// The cleared conversation is not resurrected by the stray reply.
	conv, err := store.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestSendHistory(t *testing.T) {
	t.Run("absent conversation yields empty history", func(t *testing.T) {
		engine := newTestEngine(testutil.NewMemoryStore(), testutil.NewScriptedProvider())
		em := &recordingEmitter{}

		require.NoError(t, engine.SendHistory(context.Background(), testSessionID, testOrigin, em))

		events := em.Events()
		require.Len(t, events, 1)
		history, ok := events[0].(wire.ConversationHistory)
		require.True(t, ok)
		assert.NotNil(t, history.Messages)
		assert.Empty(t, history.Messages)
	})

	t.Run("existing transcript returned in order", func(t *testing.T) {
		store := testutil.NewMemoryStore()
		engine := newTestEngine(store, testutil.NewScriptedProvider("응답"))
		em := &recordingEmitter{}

		ctx := context.Background()
		require.NoError(t, engine.HandleUserMessage(ctx, testSessionID, testOrigin, "질문", "", em))

		em = &recordingEmitter{}
		require.NoError(t, engine.SendHistory(ctx, testSessionID, testOrigin, em))

		history := em.Events()[0].(wire.ConversationHistory)
		require.Len(t, history.Messages, 2)
		assert.Equal(t, "질문", history.Messages[0].Content)
		assert.Equal(t, "응답", history.Messages[1].Content)
	})
}

func TestClearConversation(t *testing.T) {
	store := testutil.NewMemoryStore()
	engine := newTestEngine(store, testutil.NewScriptedProvider("응답"))
	em := &recordingEmitter{}

	ctx := context.Background()
	require.NoError(t, engine.HandleUserMessage(ctx, testSessionID, testOrigin, "하나", "", em))
	require.NoError(t, engine.HandleUserMessage(ctx, testSessionID, testOrigin, "둘", "", em))

	conv, err := store.Get(ctx, testSessionID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)

	em = &recordingEmitter{}
	require.NoError(t, engine.Clear(ctx, testSessionID, em))
	require.Len(t, em.Events(), 1)
	assert.Equal(t, wire.TypeConversationCleared, em.Events()[0].Type())

	conv, err = store.Get(ctx, testSessionID)
	require.NoError(t, err)
	assert.Nil(t, conv)

	// History after clearing is empty, and clearing again still succeeds.
	em = &recordingEmitter{}
	require.NoError(t, engine.SendHistory(ctx, testSessionID, testOrigin, em))
	assert.Empty(t, em.Events()[0].(wire.ConversationHistory).Messages)

	em = &recordingEmitter{}
	require.NoError(t, engine.Clear(ctx, testSessionID, em))
	assert.Equal(t, wire.TypeConversationCleared, em.Events()[0].Type())
}
