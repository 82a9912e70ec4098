package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/authflow"
	"channel-emulator/internal/bots"
	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/hub"
)

// BotsHandler loads bot profiles over the control plane. A profile whose
// secret is missing or wrong starts a credential flow; the UI answers it
// through the secret route, and an empty answer dismisses the load.
// Loaded profiles have their endpoints registered for relaying.
type BotsHandler struct {
	Bots      *bots.Manager
	Endpoints *endpoint.Registry
	Hub       *hub.Hub

	mu   sync.Mutex
	flow *authflow.Flow
}

type loadBotBody struct {
	Path   string `json:"path"`
	Secret string `json:"secret"`
}

func (h *BotsHandler) Load(c *gin.Context) {
	var body loadBotBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Path == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "path is required"))
		return
	}

	p, err := h.Bots.Load(c.Request.Context(), body.Path, body.Secret, nil)
	if err == nil {
		h.register(p)
		c.JSON(http.StatusOK, gin.H{"name": p.Name, "endpoints": len(p.Endpoints)})
		return
	}
	if !errors.Is(err, bots.ErrSecretRequired) {
		c.JSON(http.StatusNotFound, errorBody("BotNotFound", "Cannot load bot profile"))
		return
	}

	path := body.Path
	h.mu.Lock()
	if h.flow != nil {
		h.flow.Cancel()
	}
	flow := authflow.Start(context.Background(), h.Hub, "Enter the bot secret",
		func(ctx context.Context, input string) error {
			_, lerr := h.Bots.Load(ctx, path, input, nil)
			return lerr
		})
	h.flow = flow
	h.mu.Unlock()

	go func() {
		for range flow.Steps() {
		}
	}()
	go func() {
		<-flow.Done()
		state, secret := flow.Result()
		if state != authflow.StateEnded {
			return
		}
		if loaded, lerr := h.Bots.Load(context.Background(), path, secret, nil); lerr == nil {
			h.register(loaded)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"state": authflow.StateInProgress})
}

type botSecretBody struct {
	Input string `json:"input"`
}

// Secret answers the outstanding secret prompt. An empty input dismisses
// the load.
func (h *BotsHandler) Secret(c *gin.Context) {
	var body botSecretBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid input"))
		return
	}

	h.mu.Lock()
	flow := h.flow
	h.mu.Unlock()
	if flow == nil {
		c.JSON(http.StatusNotFound, errorBody("FlowNotFound", "No secret prompt outstanding"))
		return
	}

	if err := flow.Resolve(body.Input); err != nil {
		c.JSON(http.StatusNotFound, errorBody("FlowNotFound", "Secret prompt already finished"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{})
}

func (h *BotsHandler) Recent(c *gin.Context) {
	recent := h.Bots.Recent()
	out := make([]gin.H, 0, len(recent))
	for _, info := range recent {
		out = append(out, gin.H{"path": info.Path, "displayName": info.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (h *BotsHandler) register(p bots.Profile) {
	for _, pe := range p.Endpoints {
		ep := h.Endpoints.Register(endpoint.Endpoint{
			Name:        pe.Name,
			ServiceURL:  pe.ServiceURL,
			AppID:       pe.AppID,
			AppPassword: pe.AppPassword,
			CreatedAt:   time.Now().UnixMilli(),
		})
		if h.Hub != nil {
			h.Hub.Broadcast(hub.EventEndpointAdded, ep)
		}
	}
}
