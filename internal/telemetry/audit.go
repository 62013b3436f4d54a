package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Audit levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter publishes audit_log envelopes. A nil emitter is valid and does nothing.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion  int          `json:"schema_version"`
	EventType      string       `json:"event_type"`
	OccurredAt     string       `json:"occurred_at"`
	Service        string       `json:"service"`
	Environment    string       `json:"environment"`
	RequestID      string       `json:"request_id"`
	UserID         *string      `json:"user_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Payload        AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         logger,
		now:         time.Now,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.EmitConversation(ctx, level, text, requestID, userID, "")
}

// EmitConversation is Emit scoped to one conversation.
func (e *AuditEmitter) EmitConversation(ctx context.Context, level, text, requestID string, userID *string, conversationID string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion:  1,
		EventType:      "audit_log",
		OccurredAt:     e.now().UTC().Format(time.RFC3339Nano),
		Service:        e.service,
		Environment:    e.environment,
		RequestID:      requestID,
		UserID:         userID,
		ConversationID: conversationID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, map[string]string{"x-request-id": requestID}); err != nil {
		e.log.Warn("audit publish failed", "request_id", requestID, "error", err)
	}
}
