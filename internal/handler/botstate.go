package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/store"
)

// BotStateHandler serves the legacy bot state routes, keyed by channel
// and conversation or user. Writes replace the whole record.
type BotStateHandler struct {
	Store *store.Store
}

func (h *BotStateHandler) targetFromRoute(c *gin.Context) (channelID, target string, ok bool) {
	channelID = c.Param("channelId")
	conversationID := c.Param("conversationId")
	userID := c.Param("userId")
	switch {
	case conversationID != "" && userID != "":
		return channelID, store.PrivateStateTarget(conversationID, userID), true
	case conversationID != "":
		return channelID, conversationID, true
	case userID != "":
		return channelID, userID, true
	}
	return "", "", false
}

func (h *BotStateHandler) Get(c *gin.Context) {
	channelID, target, ok := h.targetFromRoute(c)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Missing state key"))
		return
	}

	rec := h.Store.GetBotState(channelID, target)
	c.JSON(http.StatusOK, rec)
}

func (h *BotStateHandler) Set(c *gin.Context) {
	channelID, target, ok := h.targetFromRoute(c)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Missing state key"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid state data"))
		return
	}

	rec := h.Store.SetBotState(channelID, target, body)
	c.JSON(http.StatusOK, rec)
}

func (h *BotStateHandler) Delete(c *gin.Context) {
	channelID, target, ok := h.targetFromRoute(c)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Missing state key"))
		return
	}

	h.Store.DeleteBotState(channelID, target)
	c.JSON(http.StatusOK, gin.H{})
}

// DeleteForUser wipes the user's data and their private conversation
// data across the whole channel.
func (h *BotStateHandler) DeleteForUser(c *gin.Context) {
	channelID := c.Param("channelId")
	userID := c.Param("userId")
	if channelID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Missing state key"))
		return
	}

	h.Store.DeleteBotStateForUser(channelID, userID)
	c.JSON(http.StatusOK, gin.H{})
}
