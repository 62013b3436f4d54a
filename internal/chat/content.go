package chat

import (
	"encoding/json"
	"fmt"

	"agency-chat/internal/models"
)

// Content is the decoded body of a message. The concrete types below are
// the only implementations.
type Content interface {
	mediaType() *models.MediaType
}

type TextContent struct {
	Text string
}

type ImageContent struct {
	URL     string
	Caption string
}

type VideoContent struct {
	URL     string
	Caption string
}

type FileContent struct {
	URL     string
	Caption string
}

type GIFContent struct {
	URL string
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
}

type ProfileShareContent struct {
	Profile SharedProfile
}

// SharedProfile is the JSON body of a profile-share message.
type SharedProfile struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	AvatarURL string `json:"avatar_url"`
}

func mediaTypePtr(t models.MediaType) *models.MediaType { return &t }

func (TextContent) mediaType() *models.MediaType         { return nil }
func (ImageContent) mediaType() *models.MediaType        { return mediaTypePtr(models.MediaImage) }
func (VideoContent) mediaType() *models.MediaType        { return mediaTypePtr(models.MediaVideo) }
func (FileContent) mediaType() *models.MediaType         { return mediaTypePtr(models.MediaFile) }
func (GIFContent) mediaType() *models.MediaType          { return mediaTypePtr(models.MediaGIF) }
func (LocationContent) mediaType() *models.MediaType     { return nil }
func (ProfileShareContent) mediaType() *models.MediaType { return mediaTypePtr(models.MediaProfile) }

// DecodeContent turns a stored row back into its content variant.
func DecodeContent(m models.Message) (Content, error) {
	if m.MediaType == nil {
		if m.Latitude != nil && m.Longitude != nil {
			return LocationContent{Latitude: *m.Latitude, Longitude: *m.Longitude}, nil
		}
		return TextContent{Text: m.Content}, nil
	}

	url := ""
	if m.MediaURL != nil {
		url = *m.MediaURL
	}
	switch *m.MediaType {
	case models.MediaImage:
		return ImageContent{URL: url, Caption: m.Content}, nil
	case models.MediaVideo:
		return VideoContent{URL: url, Caption: m.Content}, nil
	case models.MediaFile:
		return FileContent{URL: url, Caption: m.Content}, nil
	case models.MediaGIF:
		return GIFContent{URL: url}, nil
	case models.MediaProfile:
		var p SharedProfile
		if err := json.Unmarshal([]byte(m.Content), &p); err != nil {
			return nil, fmt.Errorf("decode shared profile %s: %w", m.ID, err)
		}
		return ProfileShareContent{Profile: p}, nil
	default:
		return nil, fmt.Errorf("unknown media type %q", *m.MediaType)
	}
}

// PreviewText is the one-line inbox preview of a message.
func PreviewText(m models.Message) string {
	content, err := DecodeContent(m)
	if err != nil {
		return ""
	}
	switch c := content.(type) {
	case TextContent:
		return PlainMentions(c.Text)
	case ImageContent:
		return captionOr(c.Caption, "Photo")
	case VideoContent:
		return captionOr(c.Caption, "Video")
	case FileContent:
		return captionOr(c.Caption, "File")
	case GIFContent:
		return "GIF"
	case LocationContent:
		return "Location"
	case ProfileShareContent:
		return "Shared profile: " + c.Profile.Name
	default:
		return ""
	}
}

func captionOr(caption, fallback string) string {
	if caption != "" {
		return PlainMentions(caption)
	}
	return fallback
}
