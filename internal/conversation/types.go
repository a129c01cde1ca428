// Package conversation provides durable storage for chat transcripts keyed by
// session identity.
//
// One Conversation exists per session id. Messages are append-only and keep
// insertion order; the store never reorders or deduplicates them. The
// invariant Metadata.TotalInteractions == len(Messages) holds after every
// successful save.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session classifications.
const (
	SessionTypeIPBased       = "ip_based"
	SessionTypeUserGenerated = "user_generated"
	SessionTypeAnonymous     = "anonymous"
)

// Origin carries the connection metadata recorded with a conversation.
type Origin struct {
	Address   string
	UserAgent string
}

// Metadata describes who a conversation belongs to and how it is used.
type Metadata struct {
	Address             string
	UserAgent           string
	SessionType         string
	TotalInteractions   int
	LastAccessAddress   string
	LastAccessUserAgent string
	LastAccessTime      time.Time
}

// Conversation is the durable, ordered transcript for one session identity.
type Conversation struct {
	SessionID string
	Messages  []Message
	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn. Immutable once created; the ID is assigned
// by the store on insert.
type Message struct {
	ID             uuid.UUID
	SessionID      string
	Role           string
	Content        string
	SequenceNumber int
	Timestamp      time.Time
}

// ActiveStats is a read-only aggregate over recently active conversations.
type ActiveStats struct {
	ActiveConversations        int64   `json:"totalActiveConversations"`
	TotalMessages              int64   `json:"totalMessages"`
	UniqueAddresses            int64   `json:"uniqueIPCount"`
	AvgMessagesPerConversation float64 `json:"avgMessagesPerConversation"`
}

// AddressUsage summarises usage patterns for one client address.
type AddressUsage struct {
	Address            string    `json:"ip"`
	TotalSessions      int64     `json:"totalSessions"`
	TotalMessages      int64     `json:"totalMessages"`
	AvgPerSession      float64   `json:"avgMessagesPerSession"`
	FirstVisit         time.Time `json:"firstVisit"`
	LastVisit          time.Time `json:"lastVisit"`
	ReturningUser      bool      `json:"isReturningUser"`
}
