package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"agency-chat/internal/auth"
	"agency-chat/internal/media"
	"agency-chat/internal/models"
	"agency-chat/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetOrCreateConversation(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversations(ctx context.Context, ids []string) ([]models.Conversation, error) {
	args := m.Called(ctx, ids)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) GetParticipants(ctx context.Context, conversationIDs []string) ([]models.ConversationParticipant, error) {
	args := m.Called(ctx, conversationIDs)
	var parts []models.ConversationParticipant
	if val := args.Get(0); val != nil {
		parts = val.([]models.ConversationParticipant)
	}
	return parts, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, readerID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	args := m.Called(ctx, messageID, readerID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	args := m.Called(ctx, conversationIDs)
	var out map[string]models.Message
	if val := args.Get(0); val != nil {
		out = val.(map[string]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCounts(ctx context.Context, conversationIDs []string, readerID string) (map[string]int, error) {
	args := m.Called(ctx, conversationIDs, readerID)
	var out map[string]int
	if val := args.Get(0); val != nil {
		out = val.(map[string]int)
	}
	return out, args.Error(1)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	args := m.Called(ctx, id)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *ProfileRepositoryMock) GetProfiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles []models.Profile
	if val := args.Get(0); val != nil {
		profiles = val.([]models.Profile)
	}
	return profiles, args.Error(1)
}

func (m *ProfileRepositoryMock) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]models.MentionCandidate, error) {
	args := m.Called(ctx, query, excludeID, limit)
	var out []models.MentionCandidate
	if val := args.Get(0); val != nil {
		out = val.([]models.MentionCandidate)
	}
	return out, args.Error(1)
}

func (m *ProfileRepositoryMock) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

type UploadSignerMock struct {
	mock.Mock
}

func (m *UploadSignerMock) NewUpload(ctx context.Context, ownerID, fileName, contentType string) (media.Upload, error) {
	args := m.Called(ctx, ownerID, fileName, contentType)
	var u media.Upload
	if val := args.Get(0); val != nil {
		u = val.(media.Upload)
	}
	return u, args.Error(1)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ repositories.ProfileRepository      = (*ProfileRepositoryMock)(nil)
	_ auth.TokenValidator                 = (*TokenValidatorMock)(nil)
	_ media.Signer                        = (*UploadSignerMock)(nil)
)
