package tunnel

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// State describes the tunnel as last applied. PublicURL and InspectURL
// are empty unless a tunnel session is currently connected.
type State struct {
	ListenPort int    `json:"listenPort"`
	BinaryPath string `json:"tunnelBinaryPath,omitempty"`
	PublicURL  string `json:"publicUrl,omitempty"`
	InspectURL string `json:"inspectUrl,omitempty"`
	Active     bool   `json:"tunnelActive"`
}

// Session is a live connection through a running tunnel binary.
type Session interface {
	PublicURL() string
	InspectURL() string
	// Reconnect moves the session to a new local port without
	// restarting the underlying process.
	Reconnect(ctx context.Context, port int) error
	// Terminate kills the tunnel process and waits for it to exit.
	Terminate() error
}

// Launcher provisions tunnel sessions. The production implementation
// spawns the configured binary; tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, binaryPath string, port int) (Session, error)
}

type Notifier interface {
	Broadcast(event string, body interface{})
}

// Manager owns the tunnel lifecycle. Reconfigure never blocks the
// caller: provisioning runs in the background, and a newer call
// supersedes one still in flight so only the latest desired
// configuration is ever applied.
type Manager struct {
	mu       sync.Mutex
	launcher Launcher
	notify   Notifier
	event    string

	state   State
	session Session

	gen    uint64
	cancel context.CancelFunc

	// applyMu serializes apply goroutines so a superseded one can never
	// touch the session a newer one is reusing.
	applyMu sync.Mutex
}

func NewManager(launcher Launcher, notify Notifier, event string) *Manager {
	return &Manager{launcher: launcher, notify: notify, event: event}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentPublicURL returns the tunnel URL while a session is connected,
// else the loopback URL for the current listen port.
func (m *Manager) CurrentPublicURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Active {
		return m.state.PublicURL
	}
	return fmt.Sprintf("http://localhost:%d", m.state.ListenPort)
}

// Reconfigure applies a new (port, binaryPath) pair in the background.
// A path change terminates any live process and provisions a fresh one;
// a port-only change reconnects the existing session in place.
func (m *Manager) Reconfigure(port int, binaryPath string) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.apply(ctx, gen, port, binaryPath)
}

func (m *Manager) apply(ctx context.Context, gen uint64, port int, binaryPath string) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	// Snapshot only after the previous apply has fully finished, so the
	// session seen here is whatever it left installed.
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	prevPath := m.state.BinaryPath
	session := m.session
	m.mu.Unlock()

	// Port-only change on a live session: disconnect and reconnect
	// without respawning the binary.
	if session != nil && binaryPath == prevPath && binaryPath != "" {
		if err := session.Reconnect(ctx, port); err != nil {
			log.Printf("tunnel: reconnect at port %d failed: %v", port, err)
			m.finish(gen, State{ListenPort: port, BinaryPath: binaryPath}, session, false)
			return
		}
		m.finish(gen, State{
			ListenPort: port,
			BinaryPath: binaryPath,
			PublicURL:  session.PublicURL(),
			InspectURL: session.InspectURL(),
			Active:     true,
		}, session, false)
		return
	}

	if session != nil {
		// Uninstall before terminating so a later apply never tries to
		// reconnect a dead session.
		m.mu.Lock()
		if m.session == session {
			m.session = nil
			m.state.PublicURL = ""
			m.state.InspectURL = ""
			m.state.Active = false
		}
		m.mu.Unlock()
		if err := session.Terminate(); err != nil {
			log.Printf("tunnel: terminate failed: %v", err)
		}
	}

	if binaryPath == "" {
		m.finish(gen, State{ListenPort: port}, nil, false)
		return
	}

	next, err := m.launcher.Launch(ctx, binaryPath, port)
	if err != nil {
		// Non-fatal: the service stays reachable on loopback.
		log.Printf("tunnel: failed to provision %s: %v", binaryPath, err)
		m.finish(gen, State{ListenPort: port, BinaryPath: binaryPath}, nil, false)
		return
	}

	m.finish(gen, State{
		ListenPort: port,
		BinaryPath: binaryPath,
		PublicURL:  next.PublicURL(),
		InspectURL: next.InspectURL(),
		Active:     true,
	}, next, true)
}

// finish installs the result unless a newer Reconfigure superseded this
// one. A superseded apply tears down only a session it launched itself;
// a pre-existing session is left alone for the newer apply to reuse.
func (m *Manager) finish(gen uint64, state State, session Session, owned bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if owned && session != nil {
			_ = session.Terminate()
		}
		return
	}
	m.state = state
	m.session = session
	notify := m.notify
	event := m.event
	m.mu.Unlock()

	if state.Active {
		log.Printf("tunnel: listening on %s", state.PublicURL)
	}
	if notify != nil {
		notify.Broadcast(event, state)
	}
}

// Stop terminates any live tunnel process and cancels in-flight work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	session := m.session
	m.session = nil
	m.state.PublicURL = ""
	m.state.InspectURL = ""
	m.state.Active = false
	m.mu.Unlock()

	if session != nil {
		_ = session.Terminate()
	}
}
