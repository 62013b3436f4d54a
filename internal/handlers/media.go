package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agency-chat/internal/media"
	"agency-chat/internal/middleware"
)

type MediaHandler struct {
	signer media.Signer
}

// NewMediaHandler accepts a nil signer; uploads then answer 503.
func NewMediaHandler(signer media.Signer) *MediaHandler {
	return &MediaHandler{signer: signer}
}

// CreateUpload hands out a presigned PUT URL and the public URL the message
// should reference once the upload completes.
func (h *MediaHandler) CreateUpload(c *gin.Context) {
	if h.signer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media uploads are not configured"})
		return
	}

	var req struct {
		FileName    string `json:"file_name" binding:"required"`
		ContentType string `json:"content_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	upload, err := h.signer.NewUpload(c.Request.Context(), c.GetString(middleware.UserIDKey), req.FileName, req.ContentType)
	if err != nil {
		abortWith(c, err, "failed to create upload")
		return
	}

	c.JSON(http.StatusCreated, upload)
}
