package chat

import (
	"sync"
	"time"

	"agency-chat/internal/models"
)

// Timeline is the client-side message list of one conversation. History is
// loaded once, live inserts are appended in arrival order and never re-sorted.
type Timeline struct {
	mu       sync.RWMutex
	messages []models.EnrichedMessage
	index    map[string]int
}

func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Load replaces the timeline with history. Duplicate ids keep the first copy.
func (t *Timeline) Load(history []models.EnrichedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make([]models.EnrichedMessage, 0, len(history))
	t.index = make(map[string]int, len(history))
	for _, m := range history {
		t.appendLocked(m)
	}
}

// Append adds a live message. It reports false for an id already present.
func (t *Timeline) Append(msg models.EnrichedMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(msg)
}

func (t *Timeline) appendLocked(msg models.EnrichedMessage) bool {
	if _, ok := t.index[msg.ID]; ok {
		return false
	}
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	return true
}

// MarkRead sets read_at on a message that is still unread.
func (t *Timeline) MarkRead(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.messages[i].ReadAt != nil {
		return false
	}
	t.messages[i].ReadAt = &at
	return true
}

// Messages returns a copy in display order.
func (t *Timeline) Messages() []models.EnrichedMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.EnrichedMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
