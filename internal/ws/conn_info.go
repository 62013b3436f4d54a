package ws

import "time"

// Connection kinds, used as metric labels and in lifecycle events.
const (
	KindConversation = "conversation"
	KindPresence     = "presence"
)

type ConnInfo struct {
	ConnID      string
	Kind        string
	ResourceID  string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
