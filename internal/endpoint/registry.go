package endpoint

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Endpoint is a registered backend bot the emulator relays traffic to.
// Conversations reference endpoints by id only; the registry owns the
// lifecycle.
type Endpoint struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ServiceURL  string `json:"serviceUrl"`
	AppID       string `json:"appId,omitempty"`
	AppPassword string `json:"-"`
	CreatedAt   int64  `json:"createdAt"`
}

type Registry struct {
	mu   sync.RWMutex
	byID map[string]Endpoint
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Endpoint)}
}

func (r *Registry) Register(e Endpoint) Endpoint {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[e.ID] = e
	return e
}

func (r *Registry) Get(id string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	return e, ok
}

func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Endpoint, 0, len(r.byID))
	for _, e := range r.byID {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt == result[j].CreatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	return true
}
