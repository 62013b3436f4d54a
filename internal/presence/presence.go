// Package presence tracks which profiles hold a live connection per scope.
// Members are reference counted so a profile with two tabs stays online
// until both disconnect.
package presence

import (
	"context"
	"sort"
)

// GlobalScope is the app-wide online-users channel.
const GlobalScope = "online-users"

// ProfileScope is the presence channel scoped to a single profile page.
func ProfileScope(profileID string) string {
	return GlobalScope + ":" + profileID
}

// ConversationScope is the presence channel of a conversation screen.
func ConversationScope(conversationID string) string {
	return "conversation:" + conversationID
}

// Registry stores presence membership.
type Registry interface {
	Join(ctx context.Context, scope, userID string) error
	Leave(ctx context.Context, scope, userID string) error
	Members(ctx context.Context, scope string) ([]string, error)
	Close() error
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k, n := range m {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
