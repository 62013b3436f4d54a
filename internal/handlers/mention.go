package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agency-chat/internal/chat"
	"agency-chat/internal/middleware"
)

type MentionHandler struct {
	directory *chat.MentionDirectory
}

func NewMentionHandler(directory *chat.MentionDirectory) *MentionHandler {
	return &MentionHandler{directory: directory}
}

// Search returns up to five profiles whose display name contains q.
func (h *MentionHandler) Search(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	candidates, err := h.directory.Search(c.Request.Context(), userID, c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search profiles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}
