package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yerroong/lg-chatbot/internal/catalog"
	"github.com/yerroong/lg-chatbot/internal/chat"
	"github.com/yerroong/lg-chatbot/internal/client"
	"github.com/yerroong/lg-chatbot/internal/identity"
	"github.com/yerroong/lg-chatbot/internal/testutil"
	"github.com/yerroong/lg-chatbot/internal/ws"
)

func startServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()

	engine := chat.New(testutil.NewMemoryStore(), testutil.NewScriptedProvider(chunks...),
		catalog.SystemPrompt(), nil)
	handler := ws.NewHandler(engine, ws.Config{Mode: identity.ModeProduction}, nil)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *client.Client {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"User-Agent": []string{"Mozilla/5.0 Chrome/120.0"}}

	c, err := client.Dial(context.Background(), url, header, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, c *client.Client, cond func(client.State) bool) client.State {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		if s := c.State(); cond(s) {
			return s
		}
		select {
		case <-deadline:
			t.Fatalf("condition not reached; state: %+v", c.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClientConversationFlow(t *testing.T) {
	server := startServer(t, "안", "녕하세요")
	c := dial(t, server)

	// History arrives on connect, even for a fresh session.
	waitFor(t, c, func(s client.State) bool { return s.Messages != nil })

	_, err := c.Send("안녕")
	require.NoError(t, err)

	// Optimistic view appears immediately.
	s := c.State()
	require.NotEmpty(t, s.Messages)
	assert.Equal(t, "안녕", s.Messages[0].Content)

	s = waitFor(t, c, func(s client.State) bool {
		return len(s.Messages) == 2 && !s.Streaming()
	})

	assert.False(t, s.Messages[0].IsTemp, "optimistic view was reconciled")
	assert.NotEmpty(t, s.Messages[0].ID)
	assert.Equal(t, "안녕하세요", s.Messages[1].Content)
	assert.False(t, s.Messages[1].IsStreaming)
}

func TestClientClear(t *testing.T) {
	server := startServer(t, "응답")
	c := dial(t, server)

	_, err := c.Send("질문")
	require.NoError(t, err)
	waitFor(t, c, func(s client.State) bool {
		return len(s.Messages) == 2 && !s.Streaming()
	})

	require.NoError(t, c.Clear())
	waitFor(t, c, func(s client.State) bool { return len(s.Messages) == 0 })
}

func TestClientDoneOnServerClose(t *testing.T) {
	// A bare upgrader instead of the chat handler so the test can grab the
	// server half of the socket and drop it mid-session.
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	c := dial(t, server)

	serverConn := <-conns
	require.NoError(t, serverConn.Close())

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop after server dropped the connection")
	}
}
