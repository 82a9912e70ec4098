package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/middleware"
	"channel-emulator/internal/model"
	"channel-emulator/internal/store"
)

// DirectLineHandler serves the client-side DirectLine routes the UI (the
// simulated user) talks to. Activities posted here are relayed to the
// backend endpoint.
type DirectLineHandler struct {
	Store       *store.Store
	Relay       *Relay
	TokenConfig auth.TokenConfig
	// ServiceURL yields the URL the bot should reply to, which is the
	// tunnel URL while one is active and loopback otherwise.
	ServiceURL func() string
}

func (h *DirectLineHandler) CreateConversation(c *gin.Context) {
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

	tok, err := auth.CreateConversationToken(ep.ID, conv.ID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to issue conversation token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"conversationId": conv.ID,
		"token":          tok,
		"expires_in":     conversationExpirySeconds,
	})
}

func (h *DirectLineHandler) PostActivity(c *gin.Context) {
	conversationID := c.Param("conversationId")

	var act model.Activity
	if err := c.ShouldBindJSON(&act); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid activity"))
		return
	}

	if act.ServiceURL == "" && h.ServiceURL != nil {
		act.ServiceURL = h.ServiceURL()
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

	if ep, ok := middleware.EndpointFromContext(c); ok {
		h.Relay.ToEndpoint(ep, stored)
	}
	c.JSON(http.StatusOK, gin.H{"id": stored.ID})
}

func (h *DirectLineHandler) GetActivities(c *gin.Context) {
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
