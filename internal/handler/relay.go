package handler

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/model"
)

// Relay forwards accepted activities toward the opposing party: bot
// traffic surfaces on the UI transcript, user traffic is delivered to
// the backend endpoint. Delivery is best effort and never fails the
// request that triggered it.
type Relay struct {
	Hub    *hub.Hub
	Client *http.Client
}

func NewRelay(h *hub.Hub) *Relay {
	return &Relay{
		Hub:    h,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

// ToTranscript pushes a bot-originated activity to the UI layer.
func (r *Relay) ToTranscript(act model.Activity) {
	if r.Hub != nil {
		r.Hub.Broadcast(hub.EventActivity, act)
	}
}

// ToEndpoint posts a user-originated activity to the backend bot's
// messaging endpoint.
func (r *Relay) ToEndpoint(ep endpoint.Endpoint, act model.Activity) {
	if ep.ServiceURL == "" {
		return
	}

	body, err := json.Marshal(act)
	if err != nil {
		log.Printf("relay: marshal activity: %v", err)
		return
	}

	go func() {
		resp, err := r.Client.Post(ep.ServiceURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("relay: deliver to %s failed: %v", ep.ServiceURL, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("relay: endpoint %s returned %d", ep.ServiceURL, resp.StatusCode)
		}
	}()
}
