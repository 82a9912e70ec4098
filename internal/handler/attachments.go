package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/store"
)

const maxAttachmentBytes = 4 << 20

type AttachmentsHandler struct {
	Store *store.Store
}

func (h *AttachmentsHandler) Upload(c *gin.Context) {
	content, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAttachmentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid attachment body"))
		return
	}
	if len(content) > maxAttachmentBytes {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Attachment too large"))
		return
	}

	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := h.Store.PutAttachment(contentType, content)
	c.JSON(http.StatusOK, gin.H{"id": att.ID})
}

func (h *AttachmentsHandler) Get(c *gin.Context) {
	att, ok := h.Store.GetAttachment(c.Param("attachmentId"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("AttachmentNotFound", "Unknown attachment"))
		return
	}

	c.Data(http.StatusOK, att.ContentType, att.Content)
}

// GetView serves a named view of the attachment. Only the original view
// exists in the emulator.
func (h *AttachmentsHandler) GetView(c *gin.Context) {
	if c.Param("viewId") != "original" {
		c.JSON(http.StatusNotFound, errorBody("AttachmentNotFound", "Unknown attachment view"))
		return
	}
	h.Get(c)
}
