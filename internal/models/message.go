package models

import "time"

// MediaType tags the attachment carried by a message row.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaVideo   MediaType = "video"
	MediaFile    MediaType = "file"
	MediaGIF     MediaType = "gif"
	MediaProfile MediaType = "profile"
)

// Message is a persisted chat message. Only ReadAt changes after insert.
type Message struct {
	ID             string     `db:"id" json:"id"`
	Seq            int64      `db:"seq" json:"-"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	Content        string     `db:"content" json:"content"`
	MediaURL       *string    `db:"media_url" json:"media_url,omitempty"`
	MediaType      *MediaType `db:"media_type" json:"media_type,omitempty"`
	Latitude       *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64   `db:"longitude" json:"longitude,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// IsUnreadFor reports whether the message still counts as unread for viewerID.
func (m Message) IsUnreadFor(viewerID string) bool {
	return m.SenderID != viewerID && m.ReadAt == nil
}

// NewMessage carries the columns written by a single send.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       *string
	MediaType      *MediaType
	Latitude       *float64
	Longitude      *float64
}

// EnrichedMessage is a message joined with its sender's display data.
type EnrichedMessage struct {
	Message
	SenderName      string `json:"sender_name"`
	SenderAvatarURL string `json:"sender_avatar_url"`
}
