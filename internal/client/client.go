package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yerroong/lg-chatbot/internal/log"
	"github.com/yerroong/lg-chatbot/internal/wire"
)

// Client is a websocket chat client. It maintains the reduced conversation
// state from the server's event stream; reads happen on a single background
// goroutine, so State is always a consistent snapshot.
type Client struct {
	conn   *websocket.Conn
	logger log.Logger

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	done chan struct{}
}

// Dial connects to a chat server, requests the session history and starts
// the event loop. The server derives the session identity from the
// connection itself; the client sends no credentials.
func Dial(ctx context.Context, url string, header http.Header, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		logger: logger.With("component", "client"),
		done:   make(chan struct{}),
	}

	if err := c.send(wire.InitSession{}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.listen()
	return c, nil
}

// Send transmits one user message and optimistically appends it to the local
// state. The returned token correlates the optimistic view with the server's
// confirmation.
func (c *Client) Send(content string) (string, error) {
	token := uuid.NewString()

	c.stateMu.Lock()
	c.state = AppendPending(c.state, content, token)
	c.stateMu.Unlock()

	if err := c.send(wire.UserMessage{Content: content, ClientToken: token}); err != nil {
		return "", err
	}
	return token, nil
}

// Clear asks the server to delete the conversation. Local state resets when
// the acknowledgement arrives.
func (c *Client) Clear() error {
	return c.send(wire.ClearConversation{})
}

// State returns a snapshot of the reduced conversation state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Close tears the connection down and waits for the event loop to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed when the event loop has stopped, either by Close or by the
// server going away.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) send(ev wire.ClientEvent) error {
	data, err := wire.EncodeClient(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending %s: %w", ev.Type(), err)
	}
	return nil
}

func (c *Client) listen() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "error", err)
			}
			return
		}

		ev, err := wire.DecodeServer(data)
		if err != nil {
			c.logger.Warn("dropping frame", "error", err)
			continue
		}

		c.stateMu.Lock()
		c.state = Reduce(c.state, ev)
		c.stateMu.Unlock()
	}
}
