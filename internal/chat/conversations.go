package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"agency-chat/internal/models"
	"agency-chat/internal/repositories"
)

// Aggregator builds the inbox of a profile.
type Aggregator struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	profiles      repositories.ProfileRepository
	pinnedID      string
}

// NewAggregator creates an Aggregator. Conversations with pinnedProfileID
// (the agency support account) always sort first; empty disables pinning.
func NewAggregator(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	profiles repositories.ProfileRepository,
	pinnedProfileID string,
) *Aggregator {
	return &Aggregator{conversations: conversations, messages: messages, profiles: profiles, pinnedID: pinnedProfileID}
}

// Aggregate returns every conversation of userID, sorted for display.
func (a *Aggregator) Aggregate(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	ids, err := a.conversations.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	summaries, err := a.Summaries(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	SortSummaries(summaries)
	return summaries, nil
}

// Summaries builds unsorted summaries for ids. Conversations userID does not
// take part in are left out.
func (a *Aggregator) Summaries(ctx context.Context, userID string, ids []string) ([]models.ConversationSummary, error) {
	if len(ids) == 0 {
		return []models.ConversationSummary{}, nil
	}

	convs, err := a.conversations.GetConversations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	parts, err := a.conversations.GetParticipants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	member := map[string]bool{}
	other := map[string]string{}
	for _, p := range parts {
		if p.ProfileID == userID {
			member[p.ConversationID] = true
		} else {
			other[p.ConversationID] = p.ProfileID
		}
	}
	convs = lo.Filter(convs, func(c models.Conversation, _ int) bool {
		_, hasOther := other[c.ID]
		return member[c.ID] && hasOther
	})
	if len(convs) == 0 {
		return []models.ConversationSummary{}, nil
	}
	convIDs := lo.Map(convs, func(c models.Conversation, _ int) string { return c.ID })

	profiles, err := a.profiles.GetProfiles(ctx, lo.Uniq(lo.Map(convs, func(c models.Conversation, _ int) string { return other[c.ID] })))
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	byID := lo.KeyBy(profiles, func(p models.Profile) string { return p.ID })

	last, err := a.messages.LastMessages(ctx, convIDs)
	if err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}
	unread, err := a.messages.UnreadCounts(ctx, convIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("load unread counts: %w", err)
	}

	return lo.Map(convs, func(c models.Conversation, _ int) models.ConversationSummary {
		otherID := other[c.ID]
		profile, ok := byID[otherID]
		if !ok {
			profile = models.Profile{ID: otherID}
		}
		s := models.ConversationSummary{
			Conversation:     c,
			OtherParticipant: profile,
			UnreadCount:      unread[c.ID],
			Pinned:           a.pinnedID != "" && otherID == a.pinnedID,
		}
		if m, ok := last[c.ID]; ok {
			s.LastMessagePreview = PreviewText(m)
			at := m.CreatedAt
			s.LastMessageAt = &at
		}
		return s
	}), nil
}

// SortSummaries orders pinned first, then most recently updated, then by id.
func SortSummaries(s []models.ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Pinned != s[j].Pinned {
			return s[i].Pinned
		}
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}

// ConversationIndex keeps one profile's inbox warm and refreshes single
// conversations when their messages change.
type ConversationIndex struct {
	mu      sync.RWMutex
	agg     *Aggregator
	userID  string
	entries map[string]models.ConversationSummary
}

func (a *Aggregator) NewIndex(userID string) *ConversationIndex {
	return &ConversationIndex{agg: a, userID: userID, entries: make(map[string]models.ConversationSummary)}
}

// Load performs a full recompute.
func (x *ConversationIndex) Load(ctx context.Context) error {
	summaries, err := x.agg.Aggregate(ctx, x.userID)
	if err != nil {
		return err
	}
	entries := lo.KeyBy(summaries, func(s models.ConversationSummary) string { return s.ID })
	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
	return nil
}

// Invalidate recomputes one conversation. It reports whether the index changed.
func (x *ConversationIndex) Invalidate(ctx context.Context, conversationID string) (bool, error) {
	x.mu.RLock()
	_, known := x.entries[conversationID]
	x.mu.RUnlock()
	if !known {
		member, err := x.agg.conversations.IsParticipant(ctx, conversationID, x.userID)
		if err != nil || !member {
			return false, err
		}
	}

	summaries, err := x.agg.Summaries(ctx, x.userID, []string{conversationID})
	if err != nil {
		return false, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if len(summaries) == 0 {
		_, existed := x.entries[conversationID]
		delete(x.entries, conversationID)
		return existed, nil
	}
	x.entries[conversationID] = summaries[0]
	return true, nil
}

// Snapshot returns the sorted inbox.
func (x *ConversationIndex) Snapshot() []models.ConversationSummary {
	x.mu.RLock()
	out := lo.Values(x.entries)
	x.mu.RUnlock()
	SortSummaries(out)
	return out
}
