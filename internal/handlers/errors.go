package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"agency-chat/internal/chat"
	"agency-chat/internal/media"
	"agency-chat/internal/repositories"
)

// statusFor maps domain errors onto HTTP status codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidDraft),
		errors.Is(err, chat.ErrSelfConversation),
		errors.Is(err, media.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, repositories.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrHistoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWith writes the error body. Client errors echo the cause; server
// errors use fallback so storage details never leak.
func abortWith(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	msg := fallback
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}

// pathID reads a uuid path parameter. A malformed id cannot name a row, so
// it is answered with notFound before any query runs.
func pathID(c *gin.Context, name string, notFound error) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		abortWith(c, notFound, "")
		return "", false
	}
	return id, true
}
