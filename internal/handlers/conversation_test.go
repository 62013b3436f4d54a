package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agency-chat/internal/chat"
	"agency-chat/internal/feed"
	"agency-chat/internal/logging"
	"agency-chat/internal/middleware"
	"agency-chat/internal/mocks"
	"agency-chat/internal/models"
	"agency-chat/internal/observability"
	"agency-chat/internal/telemetry"
)

const (
	testConv = "5f0c7a3e-2b1d-4e8a-9c6f-1d2e3f4a5b6c"
	testMsg1 = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c41"
	testMsg2 = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c42"
	testMsg3 = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c43"
)

type handlerDeps struct {
	convs    *mocks.ConversationRepositoryMock
	messages *mocks.MessageRepositoryMock
	profiles *mocks.ProfileRepositoryMock
}

func newHandlerDeps() handlerDeps {
	return handlerDeps{
		convs:    new(mocks.ConversationRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		profiles: new(mocks.ProfileRepositoryMock),
	}
}

func (d handlerDeps) assert(t *testing.T) {
	d.convs.AssertExpectations(t)
	d.messages.AssertExpectations(t)
	d.profiles.AssertExpectations(t)
}

func setupConversationRouter(d handlerDeps, audit *telemetry.AuditEmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()
	broker := feed.NewBroker(logger, 0)
	handler := NewConversationHandler(
		d.convs, d.messages, d.profiles,
		chat.NewAggregator(d.convs, d.messages, d.profiles, "support"),
		chat.NewMessageSync(d.convs, d.messages, d.profiles, broker, logger),
		chat.NewSender(d.convs, d.messages, logger),
		audit, logger,
	)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations", handler.StartConversation)
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/messages/:message_id/read", handler.MarkRead)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListConversationsPinsSupport(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)
	now := time.Now()

	d.convs.On("ListConversationIDs", mock.Anything, "u1").Return([]string{"c1", "c2"}, nil).Once()
	d.convs.On("GetConversations", mock.Anything, []string{"c1", "c2"}).Return([]models.Conversation{
		{ID: "c1", UpdatedAt: now},
		{ID: "c2", UpdatedAt: now.Add(-time.Hour)},
	}, nil).Once()
	d.convs.On("GetParticipants", mock.Anything, []string{"c1", "c2"}).Return([]models.ConversationParticipant{
		{ConversationID: "c1", ProfileID: "u1"}, {ConversationID: "c1", ProfileID: "u2"},
		{ConversationID: "c2", ProfileID: "u1"}, {ConversationID: "c2", ProfileID: "support"},
	}, nil).Once()
	d.profiles.On("GetProfiles", mock.Anything, []string{"u2", "support"}).Return([]models.Profile{
		{ID: "u2", DisplayName: "Bob"}, {ID: "support", DisplayName: "Support"},
	}, nil).Once()
	d.messages.On("LastMessages", mock.Anything, []string{"c1", "c2"}).Return(map[string]models.Message{}, nil).Once()
	d.messages.On("UnreadCounts", mock.Anything, []string{"c1", "c2"}, "u1").Return(map[string]int{"c1": 2}, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "c2", resp.Conversations[0].ID)
	assert.True(t, resp.Conversations[0].Pinned)
	assert.Equal(t, 2, resp.Conversations[1].UnreadCount)
	d.assert(t)
}

func TestListConversationsRepoError(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("ListConversationIDs", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/conversations", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	d.assert(t)
}

func TestStartConversationCreates(t *testing.T) {
	d := newHandlerDeps()
	pub := new(mocks.PublisherMock)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "agency-chat", "test", logging.Discard())
	router := setupConversationRouter(d, audit)

	d.profiles.On("GetProfile", mock.Anything, "u2").Return(models.Profile{ID: "u2"}, nil).Once()
	d.convs.On("GetOrCreateConversation", mock.Anything, "u1", "u2").Return(models.Conversation{ID: "c9"}, true, nil).Once()
	pub.On("Publish", mock.Anything, "conversations.created", mock.Anything, mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/conversations", `{"participant_id":"u2"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"c9"`)
	d.assert(t)
	pub.AssertExpectations(t)
}

func TestStartConversationExisting(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.profiles.On("GetProfile", mock.Anything, "u2").Return(models.Profile{ID: "u2"}, nil).Once()
	d.convs.On("GetOrCreateConversation", mock.Anything, "u1", "u2").Return(models.Conversation{ID: "c9"}, false, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations", `{"participant_id":"u2"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	d.assert(t)
}

func TestStartConversationValidation(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	rec := serve(router, http.MethodPost, "/conversations", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPost, "/conversations", `{"participant_id":"u1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	d.assert(t)
}

func TestGetMessagesMarksRead(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("ListMessages", mock.Anything, testConv).Return([]models.Message{
		{ID: "m1", ConversationID: testConv, SenderID: "u1", Content: "hi", CreatedAt: t0},
		{ID: "m2", ConversationID: testConv, SenderID: "u2", Content: "hey", CreatedAt: t0.Add(time.Second)},
	}, nil).Once()
	d.messages.On("MarkConversationRead", mock.Anything, testConv, "u1", mock.Anything).Return(int64(1), nil).Once()
	d.profiles.On("GetProfiles", mock.Anything, []string{"u1", "u2"}).Return([]models.Profile{
		{ID: "u1", DisplayName: "Me"}, {ID: "u2", DisplayName: "Bob"},
	}, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations/"+testConv+"/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.EnrichedMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Nil(t, resp.Messages[0].ReadAt)
	assert.NotNil(t, resp.Messages[1].ReadAt)
	assert.Equal(t, "Bob", resp.Messages[1].SenderName)
	d.assert(t)
}

func TestGetMessagesForbidden(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(false, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations/"+testConv+"/messages", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	d.assert(t)
}

func TestGetMessagesUnavailable(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("ListMessages", mock.Anything, testConv).Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/conversations/"+testConv+"/messages", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to load messages")
	d.assert(t)
}

func TestPostMessageText(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("CreateMessage", mock.Anything, models.NewMessage{
		ConversationID: testConv, SenderID: "u1", Content: "Hello @[Jane Doe](abc) ",
	}).Return(models.Message{ID: "m1", ConversationID: testConv, SenderID: "u1", Content: "Hello @[Jane Doe](abc) "}, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages", `{"kind":"text","text":"Hello @[Jane Doe](abc) "}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	d.assert(t)
}

func TestPostMessageInvalidDraft(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages", `{"kind":"text","text":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPost, "/conversations/"+testConv+"/messages", `{"kind":"sticker"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	d.assert(t)
}

func TestPostMessageStoreFailure(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages", `{"text":"hi"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to store message")
	d.assert(t)
}

func TestMarkReadInbound(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("GetMessage", mock.Anything, testMsg2).Return(models.Message{ID: testMsg2, ConversationID: testConv, SenderID: "u2"}, nil).Once()
	d.messages.On("MarkMessageRead", mock.Anything, testMsg2, "u1", mock.Anything).Return(false, assert.AnError).Once()

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages/"+testMsg2+"/read", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	d.assert(t)
}

func TestMarkReadOwnMessageIsNoop(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("GetMessage", mock.Anything, testMsg1).Return(models.Message{ID: testMsg1, ConversationID: testConv, SenderID: "u1"}, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages/"+testMsg1+"/read", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	d.messages.AssertNotCalled(t, "MarkMessageRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	d.assert(t)
}

func TestMarkReadWrongConversation(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	d.convs.On("IsParticipant", mock.Anything, testConv, "u1").Return(true, nil).Once()
	d.messages.On("GetMessage", mock.Anything, testMsg3).Return(models.Message{ID: testMsg3, ConversationID: "c2", SenderID: "u2"}, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations/"+testConv+"/messages/"+testMsg3+"/read", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	d.assert(t)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	d := newHandlerDeps()
	router := setupConversationRouter(d, nil)

	rec := serve(router, http.MethodGet, "/conversations/not-a-uuid/messages", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "conversation not found")

	rec = serve(router, http.MethodPost, "/conversations/not-a-uuid/messages", `{"kind":"text","text":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodPost, "/conversations/"+testConv+"/messages/m1/read", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "message not found")

	d.convs.AssertNotCalled(t, "IsParticipant", mock.Anything, mock.Anything, mock.Anything)
	d.assert(t)
}
