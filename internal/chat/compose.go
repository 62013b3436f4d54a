package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/repositories"
)

// MaxTextLength bounds text and captions.
const MaxTextLength = 4000

// Draft is an outgoing message awaiting send.
type Draft interface {
	content() Content
}

type TextDraft struct {
	Text string `validate:"required,maxtext"`
}

type MediaDraft struct {
	Kind    models.MediaType `validate:"required,oneof=image video file"`
	URL     string           `validate:"required,url"`
	Caption string           `validate:"maxtext"`
}

type GIFDraft struct {
	URL string `validate:"required,url"`
}

type LocationDraft struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

type ProfileShareDraft struct {
	Profile SharedProfile
}

func (d TextDraft) content() Content { return TextContent{Text: d.Text} }

func (d MediaDraft) content() Content {
	switch d.Kind {
	case models.MediaVideo:
		return VideoContent{URL: d.URL, Caption: d.Caption}
	case models.MediaFile:
		return FileContent{URL: d.URL, Caption: d.Caption}
	default:
		return ImageContent{URL: d.URL, Caption: d.Caption}
	}
}

func (d GIFDraft) content() Content { return GIFContent{URL: d.URL} }

func (d LocationDraft) content() Content {
	return LocationContent{Latitude: d.Latitude, Longitude: d.Longitude}
}

func (d ProfileShareDraft) content() Content { return ProfileShareContent{Profile: d.Profile} }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterAlias("maxtext", fmt.Sprintf("max=%d", MaxTextLength))
	return v
}

// ValidateDraft checks a draft before it reaches the database.
func ValidateDraft(d Draft) error {
	if d == nil {
		return fmt.Errorf("%w: empty draft", ErrInvalidDraft)
	}
	if t, ok := d.(TextDraft); ok && strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text is blank", ErrInvalidDraft)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// EncodeDraft maps a draft onto the columns of one message row.
func EncodeDraft(conversationID, senderID string, d Draft) (models.NewMessage, error) {
	msg := models.NewMessage{ConversationID: conversationID, SenderID: senderID}
	c := d.content()
	msg.MediaType = c.mediaType()

	switch c := c.(type) {
	case TextContent:
		msg.Content = c.Text
	case ImageContent:
		msg.Content, msg.MediaURL = c.Caption, &c.URL
	case VideoContent:
		msg.Content, msg.MediaURL = c.Caption, &c.URL
	case FileContent:
		msg.Content, msg.MediaURL = c.Caption, &c.URL
	case GIFContent:
		msg.MediaURL = &c.URL
	case LocationContent:
		msg.Latitude, msg.Longitude = &c.Latitude, &c.Longitude
	case ProfileShareContent:
		body, err := json.Marshal(c.Profile)
		if err != nil {
			return models.NewMessage{}, fmt.Errorf("encode shared profile: %w", err)
		}
		msg.Content = string(body)
	default:
		return models.NewMessage{}, fmt.Errorf("%w: unsupported content %T", ErrInvalidDraft, c)
	}
	return msg, nil
}

// SendRequest is the wire form of a draft.
type SendRequest struct {
	Kind      string         `json:"kind"`
	Text      string         `json:"text,omitempty"`
	URL       string         `json:"url,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Profile   *SharedProfile `json:"profile,omitempty"`
}

// Draft converts the request. An empty kind means text.
func (r SendRequest) Draft() (Draft, error) {
	switch r.Kind {
	case "", "text":
		return TextDraft{Text: r.Text}, nil
	case string(models.MediaImage), string(models.MediaVideo), string(models.MediaFile):
		return MediaDraft{Kind: models.MediaType(r.Kind), URL: r.URL, Caption: r.Caption}, nil
	case string(models.MediaGIF):
		return GIFDraft{URL: r.URL}, nil
	case "location":
		if r.Latitude == nil || r.Longitude == nil {
			return nil, fmt.Errorf("%w: location needs latitude and longitude", ErrInvalidDraft)
		}
		return LocationDraft{Latitude: *r.Latitude, Longitude: *r.Longitude}, nil
	case string(models.MediaProfile):
		if r.Profile == nil {
			return nil, fmt.Errorf("%w: profile share needs a profile", ErrInvalidDraft)
		}
		return ProfileShareDraft{Profile: *r.Profile}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDraft, r.Kind)
	}
}

// RequestFromDraft is the inverse of SendRequest.Draft.
func RequestFromDraft(d Draft) SendRequest {
	switch d := d.(type) {
	case TextDraft:
		return SendRequest{Kind: "text", Text: d.Text}
	case MediaDraft:
		return SendRequest{Kind: string(d.Kind), URL: d.URL, Caption: d.Caption}
	case GIFDraft:
		return SendRequest{Kind: string(models.MediaGIF), URL: d.URL}
	case LocationDraft:
		lat, lng := d.Latitude, d.Longitude
		return SendRequest{Kind: "location", Latitude: &lat, Longitude: &lng}
	case ProfileShareDraft:
		p := d.Profile
		return SendRequest{Kind: string(models.MediaProfile), Profile: &p}
	default:
		return SendRequest{}
	}
}

// Sender persists drafts. Each Send writes exactly one row; the live feed
// delivers it back to every open conversation screen.
type Sender struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	log           *slog.Logger
}

func NewSender(conversations repositories.ConversationRepository, messages repositories.MessageRepository, logger *slog.Logger) *Sender {
	return &Sender{conversations: conversations, messages: messages, log: logger}
}

func (s *Sender) Send(ctx context.Context, conversationID, senderID string, d Draft) (models.Message, error) {
	if err := ValidateDraft(d); err != nil {
		return models.Message{}, err
	}
	ok, err := s.conversations.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return models.Message{}, ErrNotParticipant
	}

	row, err := EncodeDraft(conversationID, senderID, d)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := s.messages.CreateMessage(ctx, row)
	if err != nil {
		s.log.Error("send message failed", "conversation_id", conversationID, "sender_id", senderID, "error", err)
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	mediaType := ""
	if msg.MediaType != nil {
		mediaType = string(*msg.MediaType)
	}
	observability.IncMessageSent(mediaType)
	return msg, nil
}

// SendFunc delivers a draft, typically Sender.Send bound to a conversation
// or the HTTP client.
type SendFunc func(ctx context.Context, d Draft) error

// Composer owns the text input of one conversation screen.
type Composer struct {
	mu     sync.Mutex
	text   string
	typing *TypingDebouncer
}

func NewComposer(typing *TypingDebouncer) *Composer {
	return &Composer{typing: typing}
}

// SetText records an edit and feeds the typing debouncer.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	c.typing.Input(text)
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Submit sends the current text. The draft is cleared only when send succeeds.
func (c *Composer) Submit(ctx context.Context, send SendFunc) error {
	draft := TextDraft{Text: c.Text()}
	if err := ValidateDraft(draft); err != nil {
		return err
	}
	c.typing.Cancel()
	if err := send(ctx, draft); err != nil {
		return err
	}
	c.mu.Lock()
	if c.text == draft.Text {
		c.text = ""
	}
	c.mu.Unlock()
	return nil
}

// Attach sends a non-text draft. The text input is left untouched.
func (c *Composer) Attach(ctx context.Context, d Draft, send SendFunc) error {
	if err := ValidateDraft(d); err != nil {
		return err
	}
	c.typing.Cancel()
	return send(ctx, d)
}
