package hub

import (
	"encoding/json"
	"sync"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Writer Writer
}

// Event names emitted to the UI layer.
const (
	EventTunnelState   = "tunnel/state"
	EventAuthflowState = "authflow/state"
	EventActivity      = "conversation/activity"
	EventReconfigured  = "framework/reconfigured"
	EventEndpointAdded = "endpoint/registered"
)

type envelope struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Body  interface{} `json:"body,omitempty"`
}

// Hub fans emulator events out to every connected UI client. Delivery is
// fire-and-forget: a client that cannot be written to is dropped, and no
// caller ever sees a delivery error.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{conns: make(map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) Broadcast(event string, body interface{}) {
	message, err := json.Marshal(envelope{Type: "event", Event: event, Body: body})
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
