package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agency-chat/internal/chat"
	"agency-chat/internal/models"
	"agency-chat/internal/presence"
)

// SessionConfig describes one open conversation screen.
type SessionConfig struct {
	BaseURL        string
	Token          string
	ConversationID string
	SelfID         string
	Clock          chat.Clock
	Logger         *slog.Logger
	// OnEvent, if set, is called after each server event has been applied.
	OnEvent func(models.EventType)
}

// Session owns the live state of one conversation screen. It holds exactly
// one socket, and with it one feed subscription, one presence membership and
// one typing relay, until Close.
type Session struct {
	cfg      SessionConfig
	api      *API
	conn     *websocket.Conn
	writeMu  sync.Mutex
	once     sync.Once
	done     chan struct{}
	debounce *chat.TypingDebouncer

	Timeline *chat.Timeline
	Online   *chat.OnlineSet
	Typing   *chat.TypingIndicator
	Composer *chat.Composer
	Mentions *chat.MentionPicker
}

// Open dials the conversation socket, loads the history and starts applying
// live events. Inserts that race the history load are deduplicated by id.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = chat.SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	api := NewAPI(cfg.BaseURL, cfg.Token)

	header := http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL(cfg.BaseURL, cfg.ConversationID), header)
	if err != nil {
		return nil, fmt.Errorf("dial conversation socket: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		api:      api,
		conn:     conn,
		done:     make(chan struct{}),
		Timeline: chat.NewTimeline(),
		Online:   chat.NewOnlineSet(presence.ConversationScope(cfg.ConversationID)),
		Typing:   chat.NewTypingIndicator(cfg.Clock, cfg.SelfID, chat.TypingTimeout),
		Mentions: chat.NewMentionPicker(api),
	}
	s.debounce = chat.NewTypingDebouncer(cfg.Clock, chat.TypingDelay, s.emitTyping)
	s.Composer = chat.NewComposer(s.debounce)

	history, err := api.History(ctx, cfg.ConversationID)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}
	s.Timeline.Load(history)

	go s.readLoop()
	return s, nil
}

// Input feeds a text edit to the composer and the mention picker.
func (s *Session) Input(ctx context.Context, text string, cursor int) error {
	s.Composer.SetText(text)
	return s.Mentions.OnInput(ctx, text, cursor)
}

// Submit sends the composer text over HTTP.
func (s *Session) Submit(ctx context.Context) error {
	return s.Composer.Submit(ctx, s.api.Sender(s.cfg.ConversationID))
}

// Attach sends a non-text draft over HTTP.
func (s *Session) Attach(ctx context.Context, d chat.Draft) error {
	return s.Composer.Attach(ctx, d, s.api.Sender(s.cfg.ConversationID))
}

// Done is closed when the socket is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close releases the socket. A pending typing state is cleared first so the
// other side does not wait for its timeout. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.debounce.Cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var ev models.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.cfg.Logger.Debug("conversation socket closed", "conversation_id", s.cfg.ConversationID, "error", err)
			}
			return
		}
		s.apply(ev)
	}
}

func (s *Session) apply(ev models.Event) {
	switch ev.Type {
	case models.EventMessageInsert:
		var m models.EnrichedMessage
		if err := ev.Decode(&m); err != nil {
			return
		}
		s.Timeline.Append(m)
	case models.EventTypingStart, models.EventTypingStop:
		var p models.TypingPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		s.Typing.Apply(ev.Type, p)
	case models.EventPresenceSync:
		var snap models.PresenceSnapshot
		if err := ev.Decode(&snap); err != nil {
			return
		}
		s.Online.Replace(snap)
	case models.EventResync:
		if err := s.reload(); err != nil {
			s.cfg.Logger.Warn("history reload failed", "conversation_id", s.cfg.ConversationID, "error", err)
			return
		}
	case models.EventError:
		var p models.ErrorPayload
		_ = ev.Decode(&p)
		s.cfg.Logger.Warn("server rejected frame", "conversation_id", s.cfg.ConversationID, "message", p.Message)
	default:
		return
	}
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev.Type)
	}
}

const reloadTimeout = 10 * time.Second

// reload replaces the timeline after the server reports a gap in the feed.
func (s *Session) reload() error {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	history, err := s.api.History(ctx, s.cfg.ConversationID)
	if err != nil {
		return err
	}
	s.Timeline.Load(history)
	return nil
}

func (s *Session) emitTyping(t models.EventType) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(models.Event{Type: t}); err != nil {
		s.cfg.Logger.Debug("typing relay failed", "conversation_id", s.cfg.ConversationID, "error", err)
	}
}

func socketURL(baseURL, conversationID string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/conversations/" + url.PathEscape(conversationID)
}
