package models

import "time"

// Conversation is a one-to-one thread between two profiles.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	PairKey   string    `db:"pair_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ConversationParticipant links a profile to a conversation.
type ConversationParticipant struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	ProfileID      string `db:"profile_id" json:"profile_id"`
}

// ConversationSummary is the inbox view of a conversation for one viewer.
type ConversationSummary struct {
	Conversation
	OtherParticipant   Profile    `json:"other_participant"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	UnreadCount        int        `json:"unread_count"`
	Pinned             bool       `json:"pinned"`
}
