// Package client is the Go side of a chat screen: an HTTP client for the
// REST endpoints and a websocket session that keeps the local timeline,
// presence and typing state in sync.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agency-chat/internal/chat"
	"agency-chat/internal/models"
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Code, e.Message)
}

// API calls the REST endpoints as one authenticated profile.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *API) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := a.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (a *API) StartConversation(ctx context.Context, participantID string) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	body := map[string]string{"participant_id": participantID}
	if err := a.do(ctx, http.MethodPost, "/conversations", body, &resp); err != nil {
		return models.Conversation{}, err
	}
	return resp.Conversation, nil
}

// History loads every message of the conversation; the server marks inbound ones read.
func (a *API) History(ctx context.Context, conversationID string) ([]models.EnrichedMessage, error) {
	var resp struct {
		Messages []models.EnrichedMessage `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (a *API) SendMessage(ctx context.Context, conversationID string, d chat.Draft) (models.Message, error) {
	var msg models.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := a.do(ctx, http.MethodPost, path, chat.RequestFromDraft(d), &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (a *API) MarkRead(ctx context.Context, conversationID, messageID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID) + "/read"
	return a.do(ctx, http.MethodPost, path, nil, nil)
}

// SearchMentions makes API a chat.MentionSearcher.
func (a *API) SearchMentions(ctx context.Context, query string) ([]models.MentionCandidate, error) {
	var resp struct {
		Candidates []models.MentionCandidate `json:"candidates"`
	}
	if err := a.do(ctx, http.MethodGet, "/mentions?q="+url.QueryEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// Sender binds SendMessage to one conversation for a chat.Composer.
func (a *API) Sender(conversationID string) chat.SendFunc {
	return func(ctx context.Context, d chat.Draft) error {
		_, err := a.SendMessage(ctx, conversationID, d)
		return err
	}
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
