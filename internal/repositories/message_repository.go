package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"agency-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, seq, conversation_id, sender_id, content, media_url, media_type, latitude, longitude, read_at, created_at`

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error)
	UnreadCounts(ctx context.Context, conversationIDs []string, readerID string) (map[string]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage inserts exactly one row.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, content, media_url, media_type, latitude, longitude)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+messageColumns,
		in.ConversationID, in.SenderID, in.Content, in.MediaURL, in.MediaType, in.Latitude, in.Longitude)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns the conversation history, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, seq ASC`, conversationID)
	return msgs, err
}

// MarkConversationRead stamps every unread message authored by the other side.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_at=$3
        WHERE conversation_id=$1 AND sender_id <> $2 AND read_at IS NULL`, conversationID, readerID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMessageRead stamps a single message. It reports false when the message
// was already read or was authored by the reader.
func (r *MessageRepo) MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_at=$3
        WHERE id=$1 AND sender_id <> $2 AND read_at IS NULL`, messageID, readerID, at)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastMessages returns the newest message of each conversation, keyed by conversation id.
func (r *MessageRepo) LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	result := make(map[string]models.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT DISTINCT ON (conversation_id) `+messageColumns+` FROM messages
        WHERE conversation_id = ANY($1)
        ORDER BY conversation_id, created_at DESC, seq DESC`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ConversationID] = m
	}
	return result, nil
}

// UnreadCounts counts messages from the other side that the reader has not read.
func (r *MessageRepo) UnreadCounts(ctx context.Context, conversationIDs []string, readerID string) (map[string]int, error) {
	result := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		ConversationID string `db:"conversation_id"`
		Count          int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT conversation_id, COUNT(*) AS count FROM messages
        WHERE conversation_id = ANY($1) AND sender_id <> $2 AND read_at IS NULL
        GROUP BY conversation_id`, pq.Array(conversationIDs), readerID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ConversationID] = row.Count
	}
	return result, nil
}
