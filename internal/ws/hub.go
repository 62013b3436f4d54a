package ws

import (
	"context"
	"log/slog"
	"sync"

	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/presence"
)

// Hub routes events to the clients joined to a topic. Presence scopes use
// the same names as topics, so a presence_sync goes to everyone watching it.
type Hub struct {
	topics   map[string]map[*Client]struct{}
	mu       sync.RWMutex
	presence presence.Registry
	log      *slog.Logger
}

// NewHub creates an empty hub backed by registry.
func NewHub(registry presence.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		topics:   make(map[string]map[*Client]struct{}),
		presence: registry,
		log:      logger,
	}
}

// Join subscribes c to topic.
func (h *Hub) Join(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

// Leave unsubscribes c from topic and drops empty topics.
func (h *Hub) Leave(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.topics[topic]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Close disconnects every client. Each socket then runs its own cleanup,
// releasing its presence membership.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make(map[*Client]struct{})
	for _, topic := range h.topics {
		for c := range topic {
			clients[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	for c := range clients {
		c.Close()
	}
}

// TopicSize returns the number of clients joined to topic.
func (h *Hub) TopicSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcast sends ev to every client of topic except skip. Clients that
// cannot keep up are dropped from the topic.
func (h *Hub) Broadcast(topic string, ev models.Event, skip *Client) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		if c != skip {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Send(ev) {
			h.Leave(topic, c)
			publishWSEvent(context.Background(), c.Info(), "ws_error", "send buffer full")
		}
	}
}

// Membership is one connection's presence in a scope.
type Membership struct {
	hub    *Hub
	scope  string
	userID string
	once   sync.Once
}

// TrackPresence registers userID in scope and pushes the new snapshot.
func (h *Hub) TrackPresence(ctx context.Context, scope, userID string) (*Membership, error) {
	if err := h.presence.Join(ctx, scope, userID); err != nil {
		return nil, err
	}
	h.SyncPresence(ctx, scope)
	return &Membership{hub: h, scope: scope, userID: userID}, nil
}

// Leave removes the membership. Later calls and calls on nil do nothing.
func (m *Membership) Leave(ctx context.Context) {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if err := m.hub.presence.Leave(ctx, m.scope, m.userID); err != nil {
			m.hub.log.Warn("presence leave failed", "scope", m.scope, "user_id", m.userID, "error", err)
			return
		}
		m.hub.SyncPresence(ctx, m.scope)
	})
}

// SyncPresence broadcasts the full member list of scope.
func (h *Hub) SyncPresence(ctx context.Context, scope string) {
	members, err := h.presence.Members(ctx, scope)
	if err != nil {
		h.log.Warn("presence snapshot failed", "scope", scope, "error", err)
		return
	}
	ev, err := models.NewEvent(models.EventPresenceSync, models.PresenceSnapshot{Scope: scope, UserIDs: members})
	if err != nil {
		return
	}
	observability.IncPresenceSync()
	h.Broadcast(scope, ev, nil)
}
