package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"agency-chat/internal/models"
)

var (
	// ErrConversationNotFound is returned for ids that cannot name a conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateConversation(ctx context.Context, userID, otherID string) (models.Conversation, bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)
	GetConversations(ctx context.Context, ids []string) ([]models.Conversation, error)
	GetParticipants(ctx context.Context, conversationIDs []string) ([]models.ConversationParticipant, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// PairKey returns the order-independent key of a two-person conversation.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// GetOrCreateConversation returns the conversation between the two profiles,
// creating it when missing. The bool reports whether a row was inserted.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	key := PairKey(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (pair_key) VALUES ($1)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING id, pair_key, created_at, updated_at`, key)
	created := err == nil
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &conv, `SELECT id, pair_key, created_at, updated_at FROM conversations WHERE pair_key=$1`, key)
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	if created {
		for _, id := range []string{userID, otherID} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, profile_id) VALUES ($1, $2)
                ON CONFLICT DO NOTHING`, conv.ID, id); err != nil {
				return models.Conversation{}, false, fmt.Errorf("add participant: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// IsParticipant checks whether a profile belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND profile_id=$2)`, conversationID, userID)
	return exists, err
}

// ListConversationIDs returns every conversation the profile takes part in.
func (r *ConversationRepo) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT conversation_id FROM conversation_participants WHERE profile_id=$1`, userID)
	return ids, err
}

// GetConversations loads conversations by id in one round trip.
func (r *ConversationRepo) GetConversations(ctx context.Context, ids []string) ([]models.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT id, pair_key, created_at, updated_at FROM conversations WHERE id = ANY($1)`, pq.Array(ids))
	return convs, err
}

// GetParticipants returns the participant rows of the given conversations.
func (r *ConversationRepo) GetParticipants(ctx context.Context, conversationIDs []string) ([]models.ConversationParticipant, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	var parts []models.ConversationParticipant
	err := r.db.SelectContext(ctx, &parts, `SELECT conversation_id, profile_id FROM conversation_participants WHERE conversation_id = ANY($1)`, pq.Array(conversationIDs))
	return parts, err
}
