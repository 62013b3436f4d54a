package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"agency-chat/internal/feed"
	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/repositories"
)

// ChangeFeed is the row-change stream of the messages table.
type ChangeFeed interface {
	Subscribe(filter feed.Filter, handler func(feed.Change)) *feed.Subscription
}

// MessageSync loads conversation history and follows new rows as they land.
type MessageSync struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	profiles      repositories.ProfileRepository
	feed          ChangeFeed
	log           *slog.Logger
	now           func() time.Time
}

func NewMessageSync(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	profiles repositories.ProfileRepository,
	changes ChangeFeed,
	logger *slog.Logger,
) *MessageSync {
	return &MessageSync{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		feed:          changes,
		log:           logger,
		now:           time.Now,
	}
}

// LoadHistory returns every message of the conversation in (created_at, seq)
// order and marks the viewer's inbound unread messages as read. A failed
// mark-read is logged; a failed read or sender lookup is returned as
// ErrHistoryUnavailable.
func (s *MessageSync) LoadHistory(ctx context.Context, conversationID, viewerID string) ([]models.EnrichedMessage, error) {
	if err := s.authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", ErrHistoryUnavailable, err)
	}

	if lo.SomeBy(msgs, func(m models.Message) bool { return m.IsUnreadFor(viewerID) }) {
		at := s.now()
		if _, err := s.messages.MarkConversationRead(ctx, conversationID, viewerID, at); err != nil {
			observability.IncMarkReadFailure()
			s.log.Warn("mark conversation read failed", "conversation_id", conversationID, "viewer_id", viewerID, "error", err)
		} else {
			for i := range msgs {
				if msgs[i].IsUnreadFor(viewerID) {
					msgs[i].ReadAt = &at
				}
			}
		}
	}

	senders := newSenderCache(s.profiles)
	senderIDs := lo.Uniq(lo.Map(msgs, func(m models.Message, _ int) string { return m.SenderID }))
	if err := senders.load(ctx, senderIDs); err != nil {
		return nil, fmt.Errorf("%w: load senders: %w", ErrHistoryUnavailable, err)
	}

	return lo.Map(msgs, func(m models.Message, _ int) models.EnrichedMessage {
		return senders.enrich(m)
	}), nil
}

// SubscribeLive calls onInsert for every message inserted into the
// conversation after the call, in arrival order. Messages from the other
// side are marked read before delivery. onResync, when set, runs whenever
// the feed may have missed inserts. Close the subscription to stop.
func (s *MessageSync) SubscribeLive(ctx context.Context, conversationID, viewerID string, onInsert func(models.EnrichedMessage), onResync func()) (*feed.Subscription, error) {
	if err := s.authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	senders := newSenderCache(s.profiles)
	filter := feed.Filter{ConversationID: conversationID, Op: feed.OpInsert}
	return s.feed.Subscribe(filter, func(change feed.Change) {
		if change.Op == feed.OpResync {
			if onResync != nil {
				onResync()
			}
			return
		}
		msg, err := s.messages.GetMessage(ctx, change.ID)
		if err != nil {
			s.log.Warn("live message lookup failed", "conversation_id", conversationID, "message_id", change.ID, "error", err)
			return
		}

		if msg.IsUnreadFor(viewerID) {
			at := s.now()
			marked, err := s.messages.MarkMessageRead(ctx, msg.ID, viewerID, at)
			switch {
			case err != nil:
				observability.IncMarkReadFailure()
				s.log.Warn("mark message read failed", "message_id", msg.ID, "viewer_id", viewerID, "error", err)
			case marked:
				msg.ReadAt = &at
			}
		}

		if err := senders.load(ctx, []string{msg.SenderID}); err != nil {
			s.log.Warn("sender lookup failed", "sender_id", msg.SenderID, "error", err)
		}
		onInsert(senders.enrich(msg))
	}), nil
}

func (s *MessageSync) authorize(ctx context.Context, conversationID, viewerID string) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, viewerID)
	if err != nil {
		return fmt.Errorf("%w: check participant: %w", ErrHistoryUnavailable, err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// senderCache batches profile lookups and remembers the result.
type senderCache struct {
	profiles repositories.ProfileRepository
	mu       sync.Mutex
	byID     map[string]models.Profile
}

func newSenderCache(profiles repositories.ProfileRepository) *senderCache {
	return &senderCache{profiles: profiles, byID: make(map[string]models.Profile)}
}

func (c *senderCache) load(ctx context.Context, ids []string) error {
	c.mu.Lock()
	missing := lo.Filter(ids, func(id string, _ int) bool {
		_, ok := c.byID[id]
		return !ok
	})
	c.mu.Unlock()
	if len(missing) == 0 {
		return nil
	}

	profiles, err := c.profiles.GetProfiles(ctx, missing)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, p := range profiles {
		c.byID[p.ID] = p
	}
	c.mu.Unlock()
	return nil
}

func (c *senderCache) enrich(m models.Message) models.EnrichedMessage {
	c.mu.Lock()
	p := c.byID[m.SenderID]
	c.mu.Unlock()
	return models.EnrichedMessage{Message: m, SenderName: p.DisplayName, SenderAvatarURL: p.AvatarURL}
}
