package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientRoundTrip(t *testing.T) {
	sent := UserMessage{Content: "데이터 무제한 요금제 추천해줘", ClientToken: "tok-1"}

	data, err := EncodeClient(sent)
	require.NoError(t, err)

	got, err := DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestDecodeClientBareEvents(t *testing.T) {
	for _, raw := range []string{
		`{"type":"init-session"}`,
		`{"type":"clear-conversation"}`,
	} {
		ev, err := DecodeClient([]byte(raw))
		require.NoError(t, err, raw)
		require.NotNil(t, ev)
	}
}

func TestDecodeClientRejectsUnknownTag(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"shutdown-server"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeClientRejectsServerTag(t *testing.T) {
	// Server-to-client events are not valid client input.
	_, err := DecodeClient([]byte(`{"type":"stream-chunk","payload":{"content":"hi"}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeClientRejectsMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"payload shape mismatch", `{"type":"user-message","payload":"just a string"}`},
		{"missing payload", `{"type":"user-message"}`},
		{"not json", `user-message hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeServerRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	events := []ServerEvent{
		ConversationHistory{Messages: []Message{{ID: "m1", Role: RoleUser, Content: "안녕", Timestamp: now}}},
		UserMessageConfirmed{Message: Message{ID: "m1", Role: RoleUser, Content: "안녕", Timestamp: now}, ClientToken: "tok-1"},
		StreamStart{MessageID: "stream-1", Timestamp: now},
		StreamChunk{Content: "안"},
		StreamEnd{Message: Message{ID: "m2", Role: RoleAssistant, Content: "안녕하세요", Timestamp: now}},
		ConversationCleared{},
		Error{Message: "boom", Details: "provider unreachable"},
	}

	for _, sent := range events {
		data, err := EncodeServer(sent)
		require.NoError(t, err)

		got, err := DecodeServer(data)
		require.NoError(t, err)
		assert.Equal(t, sent, got, "event %s", sent.Type())
	}
}

func TestDecodeServerRejectsClientTag(t *testing.T) {
	_, err := DecodeServer([]byte(`{"type":"user-message","payload":{"content":"hi"}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeServerMalformed(t *testing.T) {
	_, err := DecodeServer([]byte(`{"type":"stream-end","payload":[1,2,3]}`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeServer error = %v, want ErrMalformedPayload", err)
	}
}
