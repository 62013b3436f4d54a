package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agency-chat/internal/auth"
	"agency-chat/internal/chat"
	"agency-chat/internal/feed"
	"agency-chat/internal/logging"
	"agency-chat/internal/mocks"
	"agency-chat/internal/models"
	"agency-chat/internal/presence"
)

const testConv = "9b2e4f60-1c3d-4a5b-8e7f-0a1b2c3d4e5f"

type socketFixture struct {
	server   *httptest.Server
	hub      *Hub
	broker   *feed.Broker
	convs    *mocks.ConversationRepositoryMock
	messages *mocks.MessageRepositoryMock
	profiles *mocks.ProfileRepositoryMock
	jwt      *auth.JWT
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	return newSocketFixtureWithTimeout(t, chat.TypingTimeout)
}

func newSocketFixtureWithTimeout(t *testing.T, typingTimeout time.Duration) *socketFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()

	f := &socketFixture{
		hub:      NewHub(presence.NewMemory(), logger),
		broker:   feed.NewBroker(logger, 8),
		convs:    new(mocks.ConversationRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		profiles: new(mocks.ProfileRepositoryMock),
		jwt:      auth.NewJWT("test-secret", "agency-chat"),
	}
	sync := chat.NewMessageSync(f.convs, f.messages, f.profiles, f.broker, logger)
	sender := chat.NewSender(f.convs, f.messages, logger)
	agg := chat.NewAggregator(f.convs, f.messages, f.profiles, "")

	r := gin.New()
	r.GET("/ws/conversations/:conversation_id",
		NewConversationSocket(f.hub, f.convs, f.profiles, sync, sender, f.jwt, typingTimeout, logger).Handle)
	r.GET("/ws/presence", NewPresenceSocket(f.hub, agg, f.broker, f.profiles, f.jwt, logger).Handle)

	f.server = httptest.NewServer(r)
	t.Cleanup(func() {
		f.server.Close()
		f.broker.Close()
	})
	return f
}

func (f *socketFixture) dial(t *testing.T, path, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.jwt.IssueToken(userID, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, want models.EventType) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev models.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestConversationSocketRejectsMissingToken(t *testing.T) {
	f := newSocketFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/" + testConv
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationSocketRejectsOutsiders(t *testing.T) {
	f := newSocketFixture(t)
	f.convs.On("IsParticipant", mock.Anything, testConv, "mallory").Return(false, nil).Once()

	token, err := f.jwt.IssueToken("mallory", time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/" + testConv + "?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	f.convs.AssertExpectations(t)
}

func TestConversationSocketUnknownConversation(t *testing.T) {
	f := newSocketFixture(t)
	token, err := f.jwt.IssueToken("bob", time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/c1?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	f.convs.AssertNotCalled(t, "IsParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestConversationSocketRelaysTyping(t *testing.T) {
	f := newSocketFixture(t)
	f.convs.On("IsParticipant", mock.Anything, testConv, mock.Anything).Return(true, nil)
	f.profiles.On("GetProfile", mock.Anything, "ann").Return(models.Profile{ID: "ann", DisplayName: "Ann"}, nil)
	f.profiles.On("GetProfile", mock.Anything, "bob").Return(models.Profile{ID: "bob", DisplayName: "Bob"}, nil)

	ann := f.dial(t, "/ws/conversations/"+testConv, "ann")
	bob := f.dial(t, "/ws/conversations/"+testConv, "bob")
	topic := presence.ConversationScope(testConv)
	require.Eventually(t, func() bool { return f.hub.TopicSize(topic) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ann.WriteJSON(models.Event{Type: models.EventTypingStart}))
	var p models.TypingPayload
	require.NoError(t, readUntil(t, bob, models.EventTypingStart).Decode(&p))
	require.Equal(t, models.TypingPayload{UserID: "ann", UserName: "Ann"}, p)

	// Dropping the connection while typing clears the indicator on the other side.
	require.NoError(t, ann.Close())
	require.NoError(t, readUntil(t, bob, models.EventTypingStop).Decode(&p))
	require.Equal(t, "ann", p.UserID)
}

func TestConversationSocketExpiresStaleTyping(t *testing.T) {
	f := newSocketFixtureWithTimeout(t, 50*time.Millisecond)
	f.convs.On("IsParticipant", mock.Anything, testConv, mock.Anything).Return(true, nil)
	f.profiles.On("GetProfile", mock.Anything, mock.Anything).Return(models.Profile{DisplayName: "Someone"}, nil)

	ann := f.dial(t, "/ws/conversations/"+testConv, "ann")
	bob := f.dial(t, "/ws/conversations/"+testConv, "bob")
	require.Eventually(t, func() bool { return f.hub.TopicSize(presence.ConversationScope(testConv)) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ann.WriteJSON(models.Event{Type: models.EventTypingStart}))
	readUntil(t, bob, models.EventTypingStart)

	// No refresh and no explicit STOP: the server clears it.
	var p models.TypingPayload
	require.NoError(t, readUntil(t, bob, models.EventTypingStop).Decode(&p))
	require.Equal(t, "ann", p.UserID)
}

func TestConversationSocketDeliversInserts(t *testing.T) {
	f := newSocketFixture(t)
	readAt := time.Now()
	msg := models.Message{ID: "m1", ConversationID: testConv, SenderID: "ann", Content: "hi", ReadAt: &readAt, CreatedAt: readAt}

	f.convs.On("IsParticipant", mock.Anything, testConv, "bob").Return(true, nil)
	f.profiles.On("GetProfile", mock.Anything, "bob").Return(models.Profile{ID: "bob", DisplayName: "Bob"}, nil)
	f.profiles.On("GetProfiles", mock.Anything, []string{"ann"}).Return([]models.Profile{{ID: "ann", DisplayName: "Ann"}}, nil)
	f.messages.On("GetMessage", mock.Anything, "m1").Return(msg, nil)

	bob := f.dial(t, "/ws/conversations/"+testConv, "bob")
	require.Eventually(t, func() bool { return f.broker.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.broker.Publish(feed.Change{Op: feed.OpInsert, ID: "m1", ConversationID: testConv, SenderID: "ann"})

	var got models.EnrichedMessage
	require.NoError(t, readUntil(t, bob, models.EventMessageInsert).Decode(&got))
	require.Equal(t, "m1", got.ID)
	require.Equal(t, "Ann", got.SenderName)
}

func TestConversationSocketForwardsResync(t *testing.T) {
	f := newSocketFixture(t)
	f.convs.On("IsParticipant", mock.Anything, testConv, "bob").Return(true, nil)
	f.profiles.On("GetProfile", mock.Anything, "bob").Return(models.Profile{ID: "bob", DisplayName: "Bob"}, nil)

	bob := f.dial(t, "/ws/conversations/"+testConv, "bob")
	require.Eventually(t, func() bool { return f.broker.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.broker.Resync()
	readUntil(t, bob, models.EventResync)
}

func TestConversationSocketSendFrames(t *testing.T) {
	f := newSocketFixture(t)
	created := make(chan models.NewMessage, 1)

	f.convs.On("IsParticipant", mock.Anything, testConv, "ann").Return(true, nil)
	f.profiles.On("GetProfile", mock.Anything, "ann").Return(models.Profile{ID: "ann", DisplayName: "Ann"}, nil)
	f.messages.On("CreateMessage", mock.Anything, mock.AnythingOfType("models.NewMessage")).
		Run(func(args mock.Arguments) { created <- args.Get(1).(models.NewMessage) }).
		Return(models.Message{ID: "m1"}, nil).Once()

	ann := f.dial(t, "/ws/conversations/"+testConv, "ann")

	bad, err := models.NewEvent(models.EventSend, chat.SendRequest{Kind: "location"})
	require.NoError(t, err)
	require.NoError(t, ann.WriteJSON(bad))
	var e models.ErrorPayload
	require.NoError(t, readUntil(t, ann, models.EventError).Decode(&e))
	require.Contains(t, e.Message, "latitude")

	good, err := models.NewEvent(models.EventSend, chat.SendRequest{Kind: "text", Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, ann.WriteJSON(good))

	select {
	case row := <-created:
		require.Equal(t, "hello", row.Content)
		require.Equal(t, "ann", row.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not stored")
	}
}

func TestPresenceSocketStreamsInbox(t *testing.T) {
	f := newSocketFixture(t)
	f.convs.On("ListConversationIDs", mock.Anything, "bob").Return([]string{}, nil)
	f.profiles.On("TouchLastSeen", mock.Anything, "bob", mock.Anything).Return(nil)

	bob := f.dial(t, "/ws/presence", "bob")

	var snap models.PresenceSnapshot
	require.NoError(t, readUntil(t, bob, models.EventPresenceSync).Decode(&snap))
	require.Equal(t, models.PresenceSnapshot{Scope: presence.GlobalScope, UserIDs: []string{"bob"}}, snap)

	var inbox models.ConversationsPayload
	require.NoError(t, readUntil(t, bob, models.EventConversationsChanged).Decode(&inbox))
	require.Empty(t, inbox.Conversations)
}

func TestPresenceSocketReloadsInboxOnResync(t *testing.T) {
	f := newSocketFixture(t)
	f.convs.On("ListConversationIDs", mock.Anything, "bob").Return([]string{}, nil)
	f.profiles.On("TouchLastSeen", mock.Anything, "bob", mock.Anything).Return(nil)

	bob := f.dial(t, "/ws/presence", "bob")
	readUntil(t, bob, models.EventConversationsChanged)
	require.Eventually(t, func() bool { return f.broker.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.broker.Resync()
	readUntil(t, bob, models.EventConversationsChanged)
	f.convs.AssertNumberOfCalls(t, "ListConversationIDs", 2)
}

func TestPresenceSocketRejectsUnknownScope(t *testing.T) {
	f := newSocketFixture(t)
	token, err := f.jwt.IssueToken("bob", time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/presence?scope=admins&token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidScope(t *testing.T) {
	require.True(t, ValidScope(presence.GlobalScope))
	require.True(t, ValidScope(presence.ProfileScope("p1")))
	require.False(t, ValidScope("online-users:"))
	require.False(t, ValidScope("conversation:c1"))
}
