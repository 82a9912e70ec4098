package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/middleware"
	"channel-emulator/internal/model"
	"channel-emulator/internal/store"
)

// conversationExpirySeconds is what the real service reports; the
// emulator never actually expires conversations.
const conversationExpirySeconds = 1800

// ConversationsHandler serves the connector-side conversation routes the
// backend bot calls.
type ConversationsHandler struct {
	Store *store.Store
	Relay *Relay
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

func (h *ConversationsHandler) Create(c *gin.Context) {
	ep, ok := middleware.EndpointFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("AuthenticationFailed", "Invalid authentication token"))
		return
	}

	conv, err := h.Store.CreateConversation(ep.ID)
	if err != nil {
		if errors.Is(err, store.ErrCapacity) {
			c.JSON(http.StatusTooManyRequests, errorBody("ResourceExhausted", "Conversation store at capacity"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to create conversation"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": conv.ID, "expires_in": conversationExpirySeconds})
}

// PostActivity accepts a bot-originated activity, appends it to the
// conversation, and relays it to the UI transcript.
func (h *ConversationsHandler) PostActivity(c *gin.Context) {
	conversationID := c.Param("conversationId")

	var act model.Activity
	if err := c.ShouldBindJSON(&act); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid activity"))
		return
	}
	if act.ReplyToID == "" {
		act.ReplyToID = c.Param("activityId")
	}

	stored, _, err := h.Store.PostActivity(conversationID, act)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorBody("ConversationNotFound", "Unknown conversation"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to post activity"))
		return
	}

	h.Relay.ToTranscript(stored)
	c.JSON(http.StatusOK, gin.H{"id": stored.ID})
}

func (h *ConversationsHandler) GetActivities(c *gin.Context) {
	conversationID := c.Param("conversationId")

	watermark := int64(0)
	if raw := c.Query("watermark"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid watermark"))
			return
		}
		watermark = v
	}

	acts, next, err := h.Store.ActivitiesSince(conversationID, watermark)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorBody("ConversationNotFound", "Unknown conversation"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to read activities"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": acts, "watermark": strconv.FormatInt(next, 10)})
}
