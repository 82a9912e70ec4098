package config

import "sync"

// Settings is the live, reconfigurable subset of the config. The UI (or
// a settings file reload) pushes new snapshots; the reconfiguration
// controller consumes them.
type Settings struct {
	ListenPort       int    `json:"listenPort"`
	TunnelBinaryPath string `json:"tunnelBinaryPath,omitempty"`
}

// Watcher is a single-producer settings stream. Subscribers always see
// the latest snapshot: a pending unread value is replaced, not queued,
// so a burst of changes collapses to the final configuration.
type Watcher struct {
	mu      sync.Mutex
	current Settings
	subs    []chan Settings
}

func NewWatcher(initial Settings) *Watcher {
	return &Watcher{current: initial}
}

func (w *Watcher) Current() Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) Subscribe() <-chan Settings {
	ch := make(chan Settings, 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, ch)
	return ch
}

// Update publishes a new snapshot. Unchanged snapshots are dropped.
func (w *Watcher) Update(s Settings) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s == w.current {
		return
	}
	w.current = s

	for _, ch := range w.subs {
		// drop a stale unread snapshot so the latest always wins
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
