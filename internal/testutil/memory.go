package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yerroong/lg-chatbot/internal/conversation"
)

// MemoryStore is an in-memory stand-in for the PostgreSQL conversation store.
// It mirrors the durable store's contract, including the not-found error on
// assistant appends and idempotent clears. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*conversation.Conversation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]*conversation.Conversation{}}
}

// Load returns a copy of the stored conversation, refreshing last-access
// metadata. Returns (nil, nil) when absent.
func (m *MemoryStore) Load(_ context.Context, sessionID string, origin conversation.Origin) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[sessionID]
	if !ok {
		return nil, nil
	}
	conv.Metadata.LastAccessAddress = origin.Address
	conv.Metadata.LastAccessUserAgent = origin.UserAgent
	conv.Metadata.LastAccessTime = time.Now()
	return copyConversation(conv), nil
}

// Get returns a copy of the stored conversation without touching metadata.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[sessionID]
	if !ok {
		return nil, nil
	}
	return copyConversation(conv), nil
}

// AppendUserMessage appends a user turn, creating the conversation if needed.
func (m *MemoryStore) AppendUserMessage(_ context.Context, sessionID, content string, origin conversation.Origin) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[sessionID]
	if !ok {
		now := time.Now()
		conv = &conversation.Conversation{
			SessionID: sessionID,
			Metadata: conversation.Metadata{
				Address:     origin.Address,
				UserAgent:   origin.UserAgent,
				SessionType: conversation.SessionTypeIPBased,
			},
			CreatedAt: now,
		}
		m.convs[sessionID] = conv
	}
	conv.Metadata.LastAccessAddress = origin.Address
	conv.Metadata.LastAccessUserAgent = origin.UserAgent
	conv.Metadata.LastAccessTime = time.Now()

	return m.append(conv, conversation.RoleUser, content), nil
}

// AppendAssistantMessage appends an assistant turn to an existing
// conversation, or fails with conversation.ErrNotFound.
func (m *MemoryStore) AppendAssistantMessage(_ context.Context, sessionID, content string) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[sessionID]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return m.append(conv, conversation.RoleAssistant, content), nil
}

func (m *MemoryStore) append(conv *conversation.Conversation, role, content string) *conversation.Message {
	msg := conversation.Message{
		ID:             uuid.New(),
		SessionID:      conv.SessionID,
		Role:           role,
		Content:        content,
		SequenceNumber: len(conv.Messages) + 1,
		Timestamp:      time.Now(),
	}
	conv.Messages = append(conv.Messages, msg)
	conv.Metadata.TotalInteractions = len(conv.Messages)
	conv.UpdatedAt = msg.Timestamp
	out := msg
	return &out
}

// Clear removes the conversation if present. Always succeeds.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, sessionID)
	return nil
}

// TotalCount reports the number of stored conversations.
func (m *MemoryStore) TotalCount(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.convs)), nil
}

// ActiveCount reports conversations updated within the window.
func (m *MemoryStore) ActiveCount(_ context.Context, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var n int64
	for _, conv := range m.convs {
		if conv.UpdatedAt.After(cutoff) {
			n++
		}
	}
	return n, nil
}

// ActiveStats aggregates activity over conversations updated within the
// window.
func (m *MemoryStore) ActiveStats(_ context.Context, window time.Duration) (*conversation.ActiveStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	stats := &conversation.ActiveStats{}
	addrs := map[string]bool{}
	for _, conv := range m.convs {
		if !conv.UpdatedAt.After(cutoff) {
			continue
		}
		stats.ActiveConversations++
		stats.TotalMessages += int64(conv.Metadata.TotalInteractions)
		addrs[conv.Metadata.Address] = true
	}
	stats.UniqueAddresses = int64(len(addrs))
	if stats.ActiveConversations > 0 {
		stats.AvgMessagesPerConversation =
			float64(stats.TotalMessages) / float64(stats.ActiveConversations)
	}
	return stats, nil
}

// AddressUsage summarises stored conversations for one address. Returns
// (nil, nil) when the address is unknown.
func (m *MemoryStore) AddressUsage(_ context.Context, address string) (*conversation.AddressUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := &conversation.AddressUsage{Address: address}
	for _, conv := range m.convs {
		if conv.Metadata.Address != address {
			continue
		}
		usage.TotalSessions++
		usage.TotalMessages += int64(conv.Metadata.TotalInteractions)
		if usage.FirstVisit.IsZero() || conv.CreatedAt.Before(usage.FirstVisit) {
			usage.FirstVisit = conv.CreatedAt
		}
		if conv.UpdatedAt.After(usage.LastVisit) {
			usage.LastVisit = conv.UpdatedAt
		}
	}
	if usage.TotalSessions == 0 {
		return nil, nil
	}
	usage.ReturningUser = usage.TotalSessions > 1
	usage.AvgPerSession = float64(usage.TotalMessages) / float64(usage.TotalSessions)
	return usage, nil
}

func copyConversation(conv *conversation.Conversation) *conversation.Conversation {
	out := *conv
	out.Messages = append([]conversation.Message(nil), conv.Messages...)
	return &out
}
