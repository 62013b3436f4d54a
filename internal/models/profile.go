package models

import "time"

// Profile is the public view of an agency user.
type Profile struct {
	ID          string     `db:"id" json:"id"`
	DisplayName string     `db:"display_name" json:"display_name"`
	AvatarURL   string     `db:"avatar_url" json:"avatar_url"`
	Locale      string     `db:"locale" json:"locale,omitempty"`
	LastSeenAt  *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
}

// MentionCandidate is a profile offered by the mention picker.
type MentionCandidate struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	AvatarURL   string `db:"avatar_url" json:"avatar_url"`
}
