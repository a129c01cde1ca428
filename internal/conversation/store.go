package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yerroong/lg-chatbot/internal/log"
)

// Store persists conversations in PostgreSQL. All methods are safe for
// concurrent use; append operations serialise per conversation via row locks
// so sequence numbers and interaction counts stay consistent.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Load fetches the conversation for sessionID and refreshes its last-access
// metadata. Returns (nil, nil) when no conversation exists; absence is not an
// error at this layer.
func (s *Store) Load(ctx context.Context, sessionID string, origin Origin) (*Conversation, error) {
	conv, err := s.Get(ctx, sessionID)
	if err != nil || conv == nil {
		return conv, err
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE conversations
		SET last_access_ip = $2, last_access_user_agent = $3,
		    last_access_time = now(), updated_at = now()
		WHERE session_id = $1
		RETURNING last_access_time`,
		sessionID, origin.Address, origin.UserAgent).Scan(&conv.Metadata.LastAccessTime)
	if err != nil {
		return nil, fmt.Errorf("refreshing last access: %w", err)
	}

	conv.Metadata.LastAccessAddress = origin.Address
	conv.Metadata.LastAccessUserAgent = origin.UserAgent
	return conv, nil
}

// Get fetches the conversation for sessionID without touching any metadata.
// Returns (nil, nil) when no conversation exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	conv := &Conversation{SessionID: sessionID}

	err := s.pool.QueryRow(ctx, `
		SELECT ip_address, user_agent, session_type, total_interactions,
		       last_access_ip, last_access_user_agent, last_access_time,
		       created_at, updated_at
		FROM conversations
		WHERE session_id = $1`,
		sessionID).Scan(
		&conv.Metadata.Address, &conv.Metadata.UserAgent,
		&conv.Metadata.SessionType, &conv.Metadata.TotalInteractions,
		&conv.Metadata.LastAccessAddress, &conv.Metadata.LastAccessUserAgent,
		&conv.Metadata.LastAccessTime, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, sequence_number, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY sequence_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg := Message{SessionID: sessionID}
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.SequenceNumber, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return conv, nil
}

// AppendUserMessage appends a user turn, creating the conversation on first
// contact. The insert and the interaction-count update commit atomically.
func (s *Store) AppendUserMessage(ctx context.Context, sessionID, content string, origin Origin) (*Message, error) {
	var msg *Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The upsert row-locks the conversation for the rest of the
		// transaction, serialising concurrent appends per session.
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (session_id, ip_address, user_agent,
			                           last_access_ip, last_access_user_agent)
			VALUES ($1, $2, $3, $2, $3)
			ON CONFLICT (session_id) DO UPDATE
			SET last_access_ip = $2, last_access_user_agent = $3,
			    last_access_time = now()`,
			sessionID, origin.Address, origin.UserAgent)
		if err != nil {
			return fmt.Errorf("upserting conversation: %w", err)
		}

		msg, err = appendMessage(ctx, tx, sessionID, RoleUser, content)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("user message persisted",
		"session_id", sessionID, "message_id", msg.ID, "seq", msg.SequenceNumber)
	return msg, nil
}

// AppendAssistantMessage appends an assistant turn to an existing
// conversation. Returns ErrNotFound if the conversation vanished between the
// user turn and the stream finishing; a cleared transcript is not recreated.
func (s *Store) AppendAssistantMessage(ctx context.Context, sessionID, content string) (*Message, error) {
	var msg *Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx,
			`SELECT session_id FROM conversations WHERE session_id = $1 FOR UPDATE`,
			sessionID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking conversation: %w", err)
		}

		msg, err = appendMessage(ctx, tx, sessionID, RoleAssistant, content)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("assistant message persisted",
		"session_id", sessionID, "message_id", msg.ID, "seq", msg.SequenceNumber)
	return msg, nil
}

// appendMessage inserts one message and recomputes the interaction count
// inside the caller's transaction, keeping the count equal to the number of
// stored messages.
func appendMessage(ctx context.Context, tx pgx.Tx, sessionID, role, content string) (*Message, error) {
	msg := &Message{SessionID: sessionID, Role: role, Content: content}

	err := tx.QueryRow(ctx, `
		INSERT INTO messages (session_id, role, content, sequence_number)
		VALUES ($1, $2, $3,
		        (SELECT COALESCE(MAX(sequence_number), 0) + 1
		         FROM messages WHERE session_id = $1))
		RETURNING id, sequence_number, created_at`,
		sessionID, role, content).Scan(&msg.ID, &msg.SequenceNumber, &msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("inserting %s message: %w", role, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET total_interactions = (SELECT COUNT(*) FROM messages WHERE session_id = $1),
		    updated_at = now()
		WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("updating interaction count: %w", err)
	}

	return msg, nil
}

// Clear deletes the conversation and its messages. Clearing a session that
// has no conversation succeeds; the operation is idempotent.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}

	s.logger.Info("conversation cleared",
		"session_id", sessionID, "existed", tag.RowsAffected() > 0)
	return nil
}

// TotalCount reports the number of stored conversations.
func (s *Store) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// ActiveCount reports the number of conversations updated within the window.
func (s *Store) ActiveCount(ctx context.Context, window time.Duration) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE updated_at >= $1`,
		time.Now().Add(-window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active conversations: %w", err)
	}
	return n, nil
}

// ActiveStats aggregates activity over conversations updated within the
// window.
func (s *Store) ActiveStats(ctx context.Context, window time.Duration) (*ActiveStats, error) {
	stats := &ActiveStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_interactions), 0),
		       COUNT(DISTINCT ip_address)
		FROM conversations
		WHERE updated_at >= $1`,
		time.Now().Add(-window)).Scan(
		&stats.ActiveConversations, &stats.TotalMessages, &stats.UniqueAddresses)
	if err != nil {
		return nil, fmt.Errorf("aggregating active stats: %w", err)
	}

	if stats.ActiveConversations > 0 {
		stats.AvgMessagesPerConversation =
			float64(stats.TotalMessages) / float64(stats.ActiveConversations)
	}
	return stats, nil
}

// AddressUsage summarises all conversations recorded for one client address.
// Returns (nil, nil) when the address has never been seen.
func (s *Store) AddressUsage(ctx context.Context, address string) (*AddressUsage, error) {
	usage := &AddressUsage{Address: address}
	var first, last *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_interactions), 0),
		       MIN(created_at), MAX(updated_at)
		FROM conversations
		WHERE ip_address = $1`,
		address).Scan(&usage.TotalSessions, &usage.TotalMessages, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("aggregating address usage: %w", err)
	}
	if usage.TotalSessions == 0 {
		return nil, nil
	}

	usage.FirstVisit = *first
	usage.LastVisit = *last
	usage.ReturningUser = usage.TotalSessions > 1
	if usage.TotalSessions > 0 {
		usage.AvgPerSession = float64(usage.TotalMessages) / float64(usage.TotalSessions)
	}
	return usage, nil
}

// SweepOlderThan deletes conversations idle for longer than age and reports
// how many were removed. Message rows go with them via cascade.
func (s *Store) SweepOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE updated_at < $1`,
		time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("sweeping stale conversations: %w", err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info("stale conversations removed", "count", removed, "max_age", age)
	}
	return removed, nil
}
