package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agency-chat/internal/chat"
	"agency-chat/internal/middleware"
	"agency-chat/internal/observability"
	"agency-chat/internal/repositories"
	"agency-chat/internal/telemetry"
)

// ConversationHandler serves the conversation and message endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	profiles      repositories.ProfileRepository
	aggregator    *chat.Aggregator
	sync          *chat.MessageSync
	sender        *chat.Sender
	audit         *telemetry.AuditEmitter
	log           *slog.Logger
	now           func() time.Time
}

func NewConversationHandler(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	profiles repositories.ProfileRepository,
	aggregator *chat.Aggregator,
	sync *chat.MessageSync,
	sender *chat.Sender,
	audit *telemetry.AuditEmitter,
	logger *slog.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		aggregator:    aggregator,
		sync:          sync,
		sender:        sender,
		audit:         audit,
		log:           logger,
		now:           time.Now,
	}
}

// ListConversations returns the caller's inbox, pinned support first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	summaries, err := h.aggregator.Aggregate(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("aggregate conversations failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// StartConversation returns the conversation with participant_id, creating it on first use.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	userID := c.GetString(middleware.UserIDKey)
	if req.ParticipantID == userID {
		abortWith(c, chat.ErrSelfConversation, "")
		return
	}
	if _, err := h.profiles.GetProfile(ctx, req.ParticipantID); err != nil {
		abortWith(c, err, "failed to load participant")
		return
	}

	conv, created, err := h.conversations.GetOrCreateConversation(ctx, userID, req.ParticipantID)
	if err != nil {
		h.log.Error("get or create conversation failed", "user_id", userID, "participant_id", req.ParticipantID, "error", err)
		abortWith(c, err, "could not create conversation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.publish(c, "conversations.created", "conversation_created", map[string]interface{}{
			"conversation_id": conv.ID,
			"participant_ids": []string{userID, req.ParticipantID},
		})
		h.emitAudit(c, telemetry.LevelInfo, "Conversation created", conv.ID)
	}
	c.JSON(status, gin.H{"conversation": conv})
}

// GetMessages returns the full history and marks inbound messages read.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", chat.ErrConversationNotFound)
	if !ok {
		return
	}
	userID := c.GetString(middleware.UserIDKey)

	msgs, err := h.sync.LoadHistory(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.log.Warn("load history failed", "conversation_id", conversationID, "user_id", userID, "error", err)
		abortWith(c, err, "failed to load messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores one message. Delivery to open sockets happens through
// the change feed, not here.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", chat.ErrConversationNotFound)
	if !ok {
		return
	}
	userID := c.GetString(middleware.UserIDKey)

	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := req.Draft()
	if err != nil {
		abortWith(c, err, "")
		return
	}

	msg, err := h.sender.Send(c.Request.Context(), conversationID, userID, d)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.emitAudit(c, telemetry.LevelError, "message send failed", conversationID)
		}
		abortWith(c, err, "failed to store message")
		return
	}

	h.publish(c, "messages.sent", "message_sent", map[string]interface{}{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"sender_id":       userID,
		"mentions":        chat.MentionedIDs(msg.Content),
	})
	c.JSON(http.StatusCreated, msg)
}

// MarkRead sets read_at on one inbound message. A failed write is logged and
// still answered with 204; the next history load retries it.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID, ok := pathID(c, "conversation_id", chat.ErrConversationNotFound)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id", chat.ErrMessageNotFound)
	if !ok {
		return
	}
	userID := c.GetString(middleware.UserIDKey)

	member, err := h.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		abortWith(c, chat.ErrNotParticipant, "")
		return
	}

	msg, err := h.messages.GetMessage(ctx, messageID)
	if err != nil {
		abortWith(c, err, "failed to load message")
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}

	if msg.IsUnreadFor(userID) {
		if _, err := h.messages.MarkMessageRead(ctx, messageID, userID, h.now()); err != nil {
			observability.IncMarkReadFailure()
			h.log.Warn("mark message read failed", "message_id", messageID, "user_id", userID, "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) publish(c *gin.Context, routingKey, eventName string, payload map[string]interface{}) {
	err := observability.PublishEvent(c.Request.Context(), routingKey,
		observability.NewEnvelope("chat_events", eventName, payload),
		observability.BuildHeaders(requestIDFromContext(c), observability.TraceIDFromContext(c.Request.Context())))
	if err != nil {
		h.log.Warn("publish event failed", "event", eventName, "error", err)
	}
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text, conversationID string) {
	if h.audit == nil {
		return
	}
	h.audit.EmitConversation(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c), conversationID)
}
