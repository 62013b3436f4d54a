package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Listener turns Postgres NOTIFY payloads into broker changes.
type Listener struct {
	dsn     string
	channel string
	broker  *Broker
	log     *slog.Logger
}

// NewListener creates a Listener for channel.
func NewListener(dsn, channel string, broker *Broker, logger *slog.Logger) *Listener {
	return &Listener{dsn: dsn, channel: channel, broker: broker, log: logger}
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			l.log.Warn("change feed disconnected", "error", err)
		case pq.ListenerEventReconnected:
			l.log.Info("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			l.log.Warn("change feed reconnect failed", "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("change feed listening", "channel", l.channel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			l.dispatch(n)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn("change feed ping failed", "error", err)
				}
			}()
		}
	}
}

// dispatch publishes one notification. pq delivers nil after a reconnect,
// and anything sent while the connection was down is gone.
func (l *Listener) dispatch(n *pq.Notification) {
	if n == nil {
		l.log.Info("change feed resync after reconnect")
		l.broker.Resync()
		return
	}
	change, err := DecodeChange(n.Extra)
	if err != nil {
		l.log.Warn("malformed change notification", "error", err)
		return
	}
	l.broker.Publish(change)
}

// DecodeChange parses a NOTIFY payload.
func DecodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.ID == "" || c.ConversationID == "" {
		return Change{}, fmt.Errorf("decode change: missing id")
	}
	switch c.Op {
	case OpInsert, OpUpdate:
	default:
		return Change{}, fmt.Errorf("decode change: unknown op %q", c.Op)
	}
	return c, nil
}
