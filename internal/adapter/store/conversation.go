package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ConversationStore implements domain.ConversationStore.
type ConversationStore struct{ db *DB }

func NewConversationStore(db *DB) *ConversationStore { return &ConversationStore{db: db} }

const conversationColumns = `id, channel_type, channel_id, state, guest_id, reservation_id,
	priority, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var c domain.Conversation
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.ChannelType, &c.ChannelID, &c.State, &c.GuestID, &c.ReservationID,
		&c.Priority, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, noRowsToNotFound("ConversationStore.Get", err)
	}
	return c, nil
}

func (s *ConversationStore) GetByChannel(ctx context.Context, channelType, channelID string) (*domain.Conversation, error) {
	row := s.db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE channel_type = ? AND channel_id = ?",
		channelType, channelID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, noRowsToNotFound("ConversationStore.GetByChannel", err)
	}
	return c, nil
}

func (s *ConversationStore) Create(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = domain.NewID(domain.PrefixConversation)
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO conversations (id, channel_type, channel_id, state, guest_id, reservation_id,
			priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ChannelType, c.ChannelID, c.State, c.GuestID, c.ReservationID, c.Priority,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("ConversationStore.Create", domain.KindConflict, err, "")
	}
	return nil
}

func (s *ConversationStore) Update(ctx context.Context, c *domain.Conversation) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE conversations SET state=?, guest_id=?, reservation_id=?, priority=?, updated_at=?
		 WHERE id=?`,
		c.State, c.GuestID, c.ReservationID, c.Priority, c.UpdatedAt.Format(time.RFC3339Nano), c.ID,
	)
	if err != nil {
		return domain.WrapError("ConversationStore.Update", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "ConversationStore.Update")
}

func (s *ConversationStore) List(ctx context.Context, limit, offset int) ([]domain.Conversation, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, domain.WrapError("ConversationStore.List", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, domain.WrapError("ConversationStore.List", domain.KindFatal, err, "scan")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ConversationStats answers the stats:conversations broadcast by counting
// conversations per state. Implements eventbus.StatsComputer's conversation leg.
func (s *ConversationStore) ConversationStats(ctx context.Context) (map[domain.ConversationState]int, error) {
	rows, err := s.db.conn.QueryContext(ctx, "SELECT state, COUNT(*) FROM conversations GROUP BY state")
	if err != nil {
		return nil, domain.WrapError("ConversationStore.ConversationStats", domain.KindTransient, err, "")
	}
	defer rows.Close()
	out := make(map[domain.ConversationState]int)
	for rows.Next() {
		var state domain.ConversationState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, domain.WrapError("ConversationStore.ConversationStats", domain.KindFatal, err, "scan")
		}
		out[state] = count
	}
	return out, rows.Err()
}

// MessageStore implements domain.MessageStore.
type MessageStore struct{ db *DB }

func NewMessageStore(db *DB) *MessageStore { return &MessageStore{db: db} }

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var m domain.Message
	var confidence sql.NullFloat64
	var metadataJSON, createdAt string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.SenderType, &m.Content, &m.ContentType,
		&m.DeliveryStatus, &confidence, &m.Intent, &m.ChannelMessageID, &metadataJSON, &createdAt); err != nil {
		return nil, err
	}
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		_ = json.Unmarshal([]byte(metadataJSON), &m.Metadata)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &m, nil
}

const messageColumns = `id, conversation_id, direction, sender_type, content, content_type,
	delivery_status, confidence, intent, channel_message_id, metadata, created_at`

// Create persists a message, assigning it the next monotonically increasing
// sequence number within its conversation so ties resolve to insertion order
// (spec §5: "the earlier-persisted row wins the earlier sequence number").
func (s *MessageStore) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = domain.NewID(domain.PrefixMessage)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	metadataJSON, _ := json.Marshal(m.Metadata)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError("MessageStore.Create", domain.KindTransient, err, "")
	}
	defer tx.Rollback()

	var nextSeq int
	row := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?", m.ConversationID)
	if err := row.Scan(&nextSeq); err != nil {
		return domain.WrapError("MessageStore.Create", domain.KindTransient, err, "seq")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, direction, sender_type, content, content_type,
			delivery_status, confidence, intent, channel_message_id, metadata, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Direction, m.SenderType, m.Content, m.ContentType, m.DeliveryStatus,
		m.Confidence, m.Intent, m.ChannelMessageID, string(metadataJSON), m.CreatedAt.Format(time.RFC3339Nano), nextSeq,
	)
	if err != nil {
		return domain.WrapError("MessageStore.Create", domain.KindConflict, err, "")
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError("MessageStore.Create", domain.KindTransient, err, "commit")
	}
	return nil
}

func (s *MessageStore) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	res, err := s.db.conn.ExecContext(ctx, "UPDATE messages SET delivery_status = ? WHERE id = ?", status, id)
	if err != nil {
		return domain.WrapError("MessageStore.UpdateDeliveryStatus", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "MessageStore.UpdateDeliveryStatus")
}

// UpdateDeliveryStatusByChannelMessageID implements
// domain.MessageStore.UpdateDeliveryStatusByChannelMessageID for provider
// status-callback webhooks, which identify the message only by the id the
// channel adapter assigned it on send.
func (s *MessageStore) UpdateDeliveryStatusByChannelMessageID(ctx context.Context, channelMessageID string, status domain.DeliveryStatus) error {
	res, err := s.db.conn.ExecContext(ctx,
		"UPDATE messages SET delivery_status = ? WHERE channel_message_id = ?", status, channelMessageID)
	if err != nil {
		return domain.WrapError("MessageStore.UpdateDeliveryStatusByChannelMessageID", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "MessageStore.UpdateDeliveryStatusByChannelMessageID")
}

func (s *MessageStore) CountForConversation(ctx context.Context, conversationID string) (int, error) {
	var n int
	row := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID)
	if err := row.Scan(&n); err != nil {
		return 0, domain.WrapError("MessageStore.CountForConversation", domain.KindTransient, err, "")
	}
	return n, nil
}

// Recent returns up to n most-recently-created messages for conversationID,
// oldest first, implementing the narrow domain.MessageHistory capability the
// escalation engine depends on.
func (s *MessageStore) Recent(ctx context.Context, conversationID string, n int) ([]domain.Message, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?",
		conversationID, n)
	if err != nil {
		return nil, domain.WrapError("MessageStore.Recent", domain.KindTransient, err, "")
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, domain.WrapError("MessageStore.Recent", domain.KindFatal, err, "scan")
		}
		out = append(out, *m)
	}
	// reverse into oldest-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
