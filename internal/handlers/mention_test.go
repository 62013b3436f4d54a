package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agency-chat/internal/chat"
	"agency-chat/internal/middleware"
	"agency-chat/internal/mocks"
	"agency-chat/internal/models"
)

func setupMentionRouter(profiles *mocks.ProfileRepositoryMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/mentions", NewMentionHandler(chat.NewMentionDirectory(profiles)).Search)
	return r
}

func TestMentionSearch(t *testing.T) {
	profiles := new(mocks.ProfileRepositoryMock)
	router := setupMentionRouter(profiles)

	profiles.On("SearchProfiles", mock.Anything, "ja", "u1", chat.MentionLimit).
		Return([]models.MentionCandidate{{ID: "abc", DisplayName: "Jane Doe"}}, nil).Once()

	rec := serve(router, http.MethodGet, "/mentions?q=ja", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Jane Doe")
	profiles.AssertExpectations(t)
}

func TestMentionSearchError(t *testing.T) {
	profiles := new(mocks.ProfileRepositoryMock)
	router := setupMentionRouter(profiles)

	profiles.On("SearchProfiles", mock.Anything, "", "u1", chat.MentionLimit).Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/mentions", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	profiles.AssertExpectations(t)
}
