package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"agency-chat/internal/auth"
	"agency-chat/internal/chat"
	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/presence"
	"agency-chat/internal/repositories"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConversationSocket serves /ws/conversations/:conversation_id. Each socket
// receives message_insert for new rows, TYPING_START/STOP from the other
// side and presence_sync for the conversation scope. Clients may send
// typing frames and "send" frames carrying a compose request.
type ConversationSocket struct {
	hub           *Hub
	conversations repositories.ConversationRepository
	profiles      repositories.ProfileRepository
	sync          *chat.MessageSync
	sender        *chat.Sender
	tokens        auth.TokenValidator
	typingTimeout time.Duration
	log           *slog.Logger
}

func NewConversationSocket(
	hub *Hub,
	conversations repositories.ConversationRepository,
	profiles repositories.ProfileRepository,
	messageSync *chat.MessageSync,
	sender *chat.Sender,
	tokens auth.TokenValidator,
	typingTimeout time.Duration,
	logger *slog.Logger,
) *ConversationSocket {
	if typingTimeout <= 0 {
		typingTimeout = chat.TypingTimeout
	}
	return &ConversationSocket{
		hub:           hub,
		conversations: conversations,
		profiles:      profiles,
		sync:          messageSync,
		sender:        sender,
		tokens:        tokens,
		typingTimeout: typingTimeout,
		log:           logger,
	}
}

// Handle authenticates, checks membership and upgrades the connection.
func (h *ConversationSocket) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	ctx, span := otel.Tracer("agency-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.ValidateToken(ctx, tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := uuid.Parse(conversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	member, err := h.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	userName := ""
	if p, err := h.profiles.GetProfile(ctx, userID); err == nil {
		userName = p.DisplayName
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        KindConversation,
		ResourceID:  conversationID,
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, h.log)

	// The request context ends when Handle returns; the socket outlives it.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	topic := presence.ConversationScope(conversationID)
	h.hub.Join(topic, client)

	sub, err := h.sync.SubscribeLive(connCtx, conversationID, userID, func(m models.EnrichedMessage) {
		ev, err := models.NewEvent(models.EventMessageInsert, m)
		if err != nil {
			return
		}
		client.Send(ev)
	}, func() {
		client.Send(models.Event{Type: models.EventResync})
	})
	if err != nil {
		h.log.Warn("subscribe live failed", "conversation_id", conversationID, "user_id", userID, "error", err)
		h.hub.Leave(topic, client)
		client.Close()
		cancel()
		return
	}

	membership, err := h.hub.TrackPresence(connCtx, topic, userID)
	if err != nil {
		h.log.Warn("presence join failed", "scope", topic, "user_id", userID, "error", err)
	}

	observability.IncWSActive(KindConversation)
	publishWSEvent(connCtx, info, "ws_connect", "")

	go client.writePump(connCtx)
	go func() {
		session := &conversationSession{
			socket:         h,
			client:         client,
			topic:          topic,
			conversationID: conversationID,
			userID:         userID,
			userName:       userName,
		}
		err := client.readPump(func(ev models.Event) { session.handle(connCtx, ev) })

		session.stopTyping()
		sub.Close()
		membership.Leave(connCtx)
		h.hub.Leave(topic, client)
		client.Close()

		reason := ""
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(connCtx, info, "ws_error", reason)
			}
		}
		observability.DecWSActive(KindConversation)
		publishWSEvent(connCtx, info, "ws_disconnect", reason)
		cancel()
	}()
}

// conversationSession is driven by the read goroutine; the typing expiry
// timer is the only other writer.
type conversationSession struct {
	socket         *ConversationSocket
	client         *Client
	topic          string
	conversationID string
	userID         string
	userName       string

	mu     sync.Mutex
	typing bool
	expiry *time.Timer
}

func (s *conversationSession) handle(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventTypingStart:
		s.startTyping()
	case models.EventTypingStop:
		s.stopTyping()
	case models.EventSend:
		var req chat.SendRequest
		if err := ev.Decode(&req); err != nil {
			s.client.Send(errorEvent("malformed send request"))
			return
		}
		d, err := req.Draft()
		if err != nil {
			s.client.Send(errorEvent(err.Error()))
			return
		}
		if _, err := s.socket.sender.Send(ctx, s.conversationID, s.userID, d); err != nil {
			s.socket.log.Warn("ws send failed", "conversation_id", s.conversationID, "user_id", s.userID, "error", err)
			s.client.Send(errorEvent(sendErrorMessage(err)))
			return
		}
		s.stopTyping()
	default:
		s.client.Send(errorEvent("unsupported event " + string(ev.Type)))
	}
}

// startTyping relays START and arms the expiry. A typist that stops
// refreshing START within the timeout is cleared for everyone else.
func (s *conversationSession) startTyping() {
	s.mu.Lock()
	s.typing = true
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.expiry = time.AfterFunc(s.socket.typingTimeout, s.stopTyping)
	s.mu.Unlock()
	s.relayTyping(models.EventTypingStart)
}

func (s *conversationSession) stopTyping() {
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.mu.Unlock()
	s.relayTyping(models.EventTypingStop)
}

func (s *conversationSession) relayTyping(t models.EventType) {
	ev, err := models.NewEvent(t, models.TypingPayload{UserID: s.userID, UserName: s.userName})
	if err != nil {
		return
	}
	s.socket.hub.Broadcast(s.topic, ev, s.client)
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrInvalidDraft):
		return err.Error()
	case errors.Is(err, chat.ErrNotParticipant):
		return "not a conversation participant"
	default:
		return "failed to send message"
	}
}
