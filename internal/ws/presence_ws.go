package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"agency-chat/internal/auth"
	"agency-chat/internal/chat"
	"agency-chat/internal/feed"
	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/presence"
	"agency-chat/internal/repositories"
)

// PresenceSocket serves /ws/presence. The global scope also streams the
// caller's conversation list whenever one of their conversations changes.
type PresenceSocket struct {
	hub        *Hub
	aggregator *chat.Aggregator
	changes    chat.ChangeFeed
	profiles   repositories.ProfileRepository
	tokens     auth.TokenValidator
	log        *slog.Logger
}

func NewPresenceSocket(
	hub *Hub,
	aggregator *chat.Aggregator,
	changes chat.ChangeFeed,
	profiles repositories.ProfileRepository,
	tokens auth.TokenValidator,
	logger *slog.Logger,
) *PresenceSocket {
	return &PresenceSocket{
		hub:        hub,
		aggregator: aggregator,
		changes:    changes,
		profiles:   profiles,
		tokens:     tokens,
		log:        logger,
	}
}

// ValidScope accepts the global channel and per-profile channels.
func ValidScope(scope string) bool {
	if scope == presence.GlobalScope {
		return true
	}
	id, ok := strings.CutPrefix(scope, presence.GlobalScope+":")
	return ok && id != ""
}

func (h *PresenceSocket) Handle(c *gin.Context) {
	scope := c.DefaultQuery("scope", presence.GlobalScope)
	if !ValidScope(scope) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid presence scope"})
		return
	}

	ctx, span := otel.Tracer("agency-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.ValidateToken(ctx, tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        KindPresence,
		ResourceID:  scope,
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, h.log)
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	h.hub.Join(scope, client)
	membership, err := h.hub.TrackPresence(connCtx, scope, userID)
	if err != nil {
		h.log.Warn("presence join failed", "scope", scope, "user_id", userID, "error", err)
	}

	var sub *feed.Subscription
	if scope == presence.GlobalScope {
		sub = h.followInbox(connCtx, client, userID)
	}

	observability.IncWSActive(KindPresence)
	publishWSEvent(connCtx, info, "ws_connect", "")

	go client.writePump(connCtx)
	go func() {
		// Presence sockets are receive-only; inbound frames just keep the read deadline alive.
		err := client.readPump(func(models.Event) {})

		sub.Close()
		membership.Leave(connCtx)
		h.hub.Leave(scope, client)
		client.Close()
		if err := h.profiles.TouchLastSeen(connCtx, userID, time.Now()); err != nil {
			h.log.Warn("touch last seen failed", "user_id", userID, "error", err)
		}

		reason := ""
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(connCtx, info, "ws_error", reason)
			}
		}
		observability.DecWSActive(KindPresence)
		publishWSEvent(connCtx, info, "ws_disconnect", reason)
		cancel()
	}()
}

// followInbox pushes the full conversation list and then an updated one for
// every message change in a conversation the user takes part in. A feed
// resync reloads the whole list.
func (h *PresenceSocket) followInbox(ctx context.Context, client *Client, userID string) *feed.Subscription {
	index := h.aggregator.NewIndex(userID)
	if err := index.Load(ctx); err != nil {
		h.log.Warn("conversation list load failed", "user_id", userID, "error", err)
	}
	sendInbox(client, index)

	return h.changes.Subscribe(feed.Filter{}, func(change feed.Change) {
		if change.Op == feed.OpResync {
			if err := index.Load(ctx); err != nil {
				h.log.Warn("conversation list reload failed", "user_id", userID, "error", err)
				return
			}
			sendInbox(client, index)
			return
		}
		changed, err := index.Invalidate(ctx, change.ConversationID)
		if err != nil {
			h.log.Warn("conversation refresh failed", "user_id", userID, "conversation_id", change.ConversationID, "error", err)
			return
		}
		if changed {
			sendInbox(client, index)
		}
	})
}

func sendInbox(client *Client, index *chat.ConversationIndex) {
	ev, err := models.NewEvent(models.EventConversationsChanged, models.ConversationsPayload{Conversations: index.Snapshot()})
	if err != nil {
		return
	}
	client.Send(ev)
}
