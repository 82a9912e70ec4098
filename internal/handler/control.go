package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/config"
	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/store"
	"channel-emulator/internal/tunnel"
)

// ControlHandler is the emulator's own control plane, called by the UI
// layer rather than by the bot: endpoint registration, conversation
// teardown, tunnel status, and live settings updates.
type ControlHandler struct {
	Endpoints   *endpoint.Registry
	Store       *store.Store
	TokenConfig auth.TokenConfig
	Hub         *hub.Hub
	TunnelState func() tunnel.State
	Settings    *config.Watcher
}

// EndConversation drops a conversation and its history, the UI's restart
// action.
func (h *ControlHandler) EndConversation(c *gin.Context) {
	if !h.Store.DeleteConversation(c.Param("conversationId")) {
		c.JSON(http.StatusNotFound, errorBody("ConversationNotFound", "Unknown conversation"))
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type registerEndpointBody struct {
	Name        string `json:"name"`
	ServiceURL  string `json:"serviceUrl"`
	AppID       string `json:"appId"`
	AppPassword string `json:"appPassword"`
}

func (h *ControlHandler) RegisterEndpoint(c *gin.Context) {
	var body registerEndpointBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ServiceURL == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "serviceUrl is required"))
		return
	}

	ep := h.Endpoints.Register(endpoint.Endpoint{
		Name:        body.Name,
		ServiceURL:  body.ServiceURL,
		AppID:       body.AppID,
		AppPassword: body.AppPassword,
		CreatedAt:   time.Now().UnixMilli(),
	})

	tok, err := auth.CreateEndpointToken(ep.ID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to issue endpoint token"))
		return
	}

	if h.Hub != nil {
		h.Hub.Broadcast(hub.EventEndpointAdded, ep)
	}
	c.JSON(http.StatusCreated, gin.H{"id": ep.ID, "token": tok})
}

func (h *ControlHandler) ListEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.Endpoints.List()})
}

// UpdateSettings pushes a new settings snapshot onto the live stream.
// The reconfiguration controller picks it up asynchronously.
func (h *ControlHandler) UpdateSettings(c *gin.Context) {
	if h.Settings == nil {
		c.JSON(http.StatusNotFound, errorBody("NotSupported", "Settings stream not available"))
		return
	}

	var s config.Settings
	if err := c.ShouldBindJSON(&s); err != nil || s.ListenPort <= 0 || s.ListenPort > 65535 {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid settings"))
		return
	}

	h.Settings.Update(s)
	c.JSON(http.StatusAccepted, s)
}

func (h *ControlHandler) GetSettings(c *gin.Context) {
	if h.Settings == nil {
		c.JSON(http.StatusNotFound, errorBody("NotSupported", "Settings stream not available"))
		return
	}
	c.JSON(http.StatusOK, h.Settings.Current())
}

func (h *ControlHandler) Tunnel(c *gin.Context) {
	if h.TunnelState == nil {
		c.JSON(http.StatusOK, tunnel.State{})
		return
	}
	c.JSON(http.StatusOK, h.TunnelState())
}
