package reconfig

import (
	"context"
	"log"
	"sync"

	"channel-emulator/internal/config"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/tunnel"
)

// Listener is the restartable HTTP listener the controller manages,
// satisfied by *server.Server.
type Listener interface {
	Port() int
	Restart(port int) error
}

// Tunneler is satisfied by *tunnel.Manager.
type Tunneler interface {
	Reconfigure(port int, binaryPath string)
	State() tunnel.State
}

type Notifier interface {
	Broadcast(event string, body interface{})
}

// Event is what the controller reports back after applying a settings
// snapshot. The tunnel fields are the manager's state at broadcast time;
// provisioning requested by this pass is still in flight, and its
// outcome arrives on the manager's own tunnel state event.
type Event struct {
	ListenPort       int    `json:"listenPort"`
	TunnelBinaryPath string `json:"tunnelBinaryPath,omitempty"`
	PublicURL        string `json:"publicUrl,omitempty"`
	TunnelInspectURL string `json:"tunnelInspectUrl,omitempty"`
	TunnelActive     bool   `json:"tunnelActive"`
}

// Controller watches the settings stream and applies changes: a port
// change restarts the listener and forces tunnel re-provisioning, a
// tunnel path change is delegated to the tunnel manager. Application is
// best effort; a failed restart keeps the previous listener when it is
// still bindable.
type Controller struct {
	listener Listener
	tunneler Tunneler
	notify   Notifier

	mu       sync.Mutex
	lastPath string
}

func NewController(listener Listener, tunneler Tunneler, notify Notifier) *Controller {
	return &Controller{listener: listener, tunneler: tunneler, notify: notify}
}

// Run consumes settings snapshots until the context ends.
func (c *Controller) Run(ctx context.Context, settings <-chan config.Settings) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-settings:
			if !ok {
				return
			}
			c.Apply(s)
		}
	}
}

// Apply applies one settings snapshot synchronously (tunnel provisioning
// itself still happens in the manager's background).
func (c *Controller) Apply(s config.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()

	restarted := false
	if s.ListenPort != c.listener.Port() {
		if err := c.listener.Restart(s.ListenPort); err != nil {
			log.Printf("reconfig: restart at port %d failed: %v", s.ListenPort, err)
		} else {
			restarted = true
		}
	}

	if restarted || s.TunnelBinaryPath != c.lastPath {
		c.lastPath = s.TunnelBinaryPath
		c.tunneler.Reconfigure(c.listener.Port(), s.TunnelBinaryPath)
	}

	if c.notify != nil {
		ts := c.tunneler.State()
		c.notify.Broadcast(hub.EventReconfigured, Event{
			ListenPort:       c.listener.Port(),
			TunnelBinaryPath: s.TunnelBinaryPath,
			PublicURL:        ts.PublicURL,
			TunnelInspectURL: ts.InspectURL,
			TunnelActive:     ts.Active,
		})
	}
}
