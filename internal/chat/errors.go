package chat

import (
	"errors"

	"agency-chat/internal/repositories"
)

var (
	ErrNotParticipant     = errors.New("not a participant of this conversation")
	ErrHistoryUnavailable = errors.New("conversation history unavailable")
	ErrInvalidDraft       = errors.New("invalid draft")

	ErrConversationNotFound = repositories.ErrConversationNotFound
	ErrSelfConversation     = repositories.ErrSelfConversation
	ErrMessageNotFound      = repositories.ErrMessageNotFound
)
