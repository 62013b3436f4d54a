package chat

import (
	"sort"
	"sync"

	"agency-chat/internal/models"
)

// OnlineSet mirrors one presence scope. Every sync replaces it wholesale.
type OnlineSet struct {
	mu      sync.RWMutex
	scope   string
	members map[string]struct{}
}

func NewOnlineSet(scope string) *OnlineSet {
	return &OnlineSet{scope: scope, members: make(map[string]struct{})}
}

// Replace installs snapshot. Snapshots for another scope are ignored.
func (s *OnlineSet) Replace(snapshot models.PresenceSnapshot) bool {
	if snapshot.Scope != s.scope {
		return false
	}
	members := make(map[string]struct{}, len(snapshot.UserIDs))
	for _, id := range snapshot.UserIDs {
		members[id] = struct{}{}
	}
	s.mu.Lock()
	s.members = members
	s.mu.Unlock()
	return true
}

func (s *OnlineSet) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[userID]
	return ok
}

// Members returns the sorted member ids.
func (s *OnlineSet) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
