// Package client provides the client half of the chat protocol: a pure
// reducer that folds server events into a renderable conversation view, and a
// websocket client that drives it.
package client

import "github.com/yerroong/lg-chatbot/internal/wire"

// MessageView is one renderable message. Temp views are optimistic local
// copies awaiting confirmation; at most one view is streaming at a time.
type MessageView struct {
	wire.Message
	IsTemp      bool
	IsStreaming bool
	ClientToken string
}

// State is the whole client-side conversation state. The zero value is a
// fresh, empty conversation.
type State struct {
	Messages []MessageView

	// StreamingID is the provisional id of the in-flight assistant view,
	// or empty when nothing is streaming. It is the only linkage between
	// chunk events and the view they extend.
	StreamingID string
}

// AppendPending adds an optimistic user view before the server confirms it.
// The token correlates the later confirmation with this view.
func AppendPending(s State, content, token string) State {
	views := cloneViews(s.Messages)
	views = append(views, MessageView{
		Message:     wire.Message{Role: wire.RoleUser, Content: content},
		IsTemp:      true,
		ClientToken: token,
	})
	return State{Messages: views, StreamingID: s.StreamingID}
}

// Reduce folds one server event into the state. It never mutates its input.
func Reduce(s State, ev wire.ServerEvent) State {
	switch ev := ev.(type) {
	case wire.ConversationHistory:
		views := make([]MessageView, len(ev.Messages))
		for i, m := range ev.Messages {
			views[i] = MessageView{Message: m}
		}
		return State{Messages: views}

	case wire.UserMessageConfirmed:
		return reduceConfirmed(s, ev)

	case wire.StreamStart:
		views := clearStreaming(cloneViews(s.Messages))
		views = append(views, MessageView{
			Message:     wire.Message{ID: ev.MessageID, Role: wire.RoleAssistant, Timestamp: ev.Timestamp},
			IsStreaming: true,
		})
		return State{Messages: views, StreamingID: ev.MessageID}

	case wire.StreamChunk:
		// A chunk with no active stream has nothing to extend.
		if s.StreamingID == "" {
			return s
		}
		views := cloneViews(s.Messages)
		for i := range views {
			if views[i].ID == s.StreamingID {
				views[i].Content += ev.Content
				break
			}
		}
		return State{Messages: views, StreamingID: s.StreamingID}

	case wire.StreamEnd:
		views := cloneViews(s.Messages)
		if s.StreamingID != "" {
			for i := range views {
				if views[i].ID == s.StreamingID {
					views[i] = MessageView{Message: ev.Message}
					break
				}
			}
		}
		return State{Messages: clearStreaming(views)}

	case wire.ConversationCleared:
		return State{}

	case wire.Error:
		// Input must re-enable even without a clean stream-end.
		return State{Messages: clearStreaming(cloneViews(s.Messages))}

	default:
		return s
	}
}

// reduceConfirmed reconciles a confirmation with its optimistic view: by
// correlation token first, then by temp role+content, appending when nothing
// matches (for example a confirmation raced in from another tab).
func reduceConfirmed(s State, ev wire.UserMessageConfirmed) State {
	views := cloneViews(s.Messages)
	confirmed := MessageView{Message: ev.Message}

	if ev.ClientToken != "" {
		for i := range views {
			if views[i].IsTemp && views[i].ClientToken == ev.ClientToken {
				views[i] = confirmed
				return State{Messages: views, StreamingID: s.StreamingID}
			}
		}
	}

	for i := range views {
		if views[i].IsTemp && views[i].Role == ev.Message.Role && views[i].Content == ev.Message.Content {
			views[i] = confirmed
			return State{Messages: views, StreamingID: s.StreamingID}
		}
	}

	views = append(views, confirmed)
	return State{Messages: views, StreamingID: s.StreamingID}
}

// Streaming reports whether an assistant reply is in flight.
func (s State) Streaming() bool { return s.StreamingID != "" }

func cloneViews(views []MessageView) []MessageView {
	return append([]MessageView(nil), views...)
}

func clearStreaming(views []MessageView) []MessageView {
	for i := range views {
		views[i].IsStreaming = false
	}
	return views
}
