package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"channel-emulator/internal/authflow"
	"channel-emulator/internal/hub"
)

// AuthflowHandler exposes the credential-acquisition flow to the UI: one
// flow at a time, started, resolved, and canceled over the control plane.
// State transitions reach the UI through the hub as well.
type AuthflowHandler struct {
	Hub *hub.Hub

	mu      sync.Mutex
	flow    *authflow.Flow
	step    authflow.Step
	hasStep bool
}

// authoring keys are GUIDs; anything else re-prompts
func validateAuthoringKey(_ context.Context, input string) error {
	if _, err := uuid.Parse(input); err != nil {
		return fmt.Errorf("authoring key must be a GUID")
	}
	return nil
}

type startFlowBody struct {
	Prompt string `json:"prompt"`
}

// Start begins a new flow, replacing a running one. The replaced flow is
// canceled first so only one prompt is ever outstanding.
func (h *AuthflowHandler) Start(c *gin.Context) {
	var body startFlowBody
	_ = c.ShouldBindJSON(&body)
	if body.Prompt == "" {
		body.Prompt = "Enter your authoring key"
	}

	h.mu.Lock()
	if h.flow != nil {
		h.flow.Cancel()
	}
	flow := authflow.Start(context.Background(), h.Hub, body.Prompt, validateAuthoringKey)
	h.flow = flow
	h.hasStep = false
	h.mu.Unlock()

	go func() {
		for step := range flow.Steps() {
			h.mu.Lock()
			if h.flow == flow {
				h.step = step
				h.hasStep = true
			}
			h.mu.Unlock()
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"state": authflow.StateInProgress})
}

func (h *AuthflowHandler) Status(c *gin.Context) {
	h.mu.Lock()
	flow := h.flow
	step := h.step
	hasStep := h.hasStep
	h.mu.Unlock()

	if flow == nil {
		c.JSON(http.StatusOK, gin.H{"state": authflow.StateIdle})
		return
	}

	state, _ := flow.Result()
	resp := gin.H{"state": state}
	if state == authflow.StateInProgress && hasStep {
		resp["step"] = step
	}
	c.JSON(http.StatusOK, resp)
}

type resolveFlowBody struct {
	Input string `json:"input"`
}

func (h *AuthflowHandler) Resolve(c *gin.Context) {
	var body resolveFlowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "Invalid input"))
		return
	}

	h.mu.Lock()
	flow := h.flow
	h.mu.Unlock()
	if flow == nil {
		c.JSON(http.StatusNotFound, errorBody("FlowNotFound", "No flow in progress"))
		return
	}

	if err := flow.Resolve(body.Input); err != nil {
		c.JSON(http.StatusNotFound, errorBody("FlowNotFound", "Flow already finished"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{})
}

func (h *AuthflowHandler) Cancel(c *gin.Context) {
	h.mu.Lock()
	flow := h.flow
	h.mu.Unlock()
	if flow == nil {
		c.JSON(http.StatusNotFound, errorBody("FlowNotFound", "No flow in progress"))
		return
	}

	flow.Cancel()
	c.JSON(http.StatusOK, gin.H{})
}
