package models

import "encoding/json"

// EventType names a websocket frame.
type EventType string

const (
	EventMessageInsert        EventType = "message_insert"
	EventTypingStart          EventType = "TYPING_START"
	EventTypingStop           EventType = "TYPING_STOP"
	EventPresenceSync         EventType = "presence_sync"
	EventConversationsChanged EventType = "conversations_changed"
	EventSend                 EventType = "send"
	EventError                EventType = "error"
	// EventResync asks the client to reload history; live inserts may have been missed.
	EventResync EventType = "resync"
)

// Event is the envelope used in both directions on every socket.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload into an Event. A nil payload yields an empty body.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// TypingPayload is relayed with TYPING_START and TYPING_STOP.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// PresenceSnapshot is the full member list of a presence scope.
type PresenceSnapshot struct {
	Scope   string   `json:"scope"`
	UserIDs []string `json:"user_ids"`
}

// ErrorPayload reports a failed client frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConversationsPayload carries the sorted inbox.
type ConversationsPayload struct {
	Conversations []ConversationSummary `json:"conversations"`
}
