package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"channel-emulator/internal/model"
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrCapacity = errors.New("conversation store at capacity")
)

// DefaultMaxConversations bounds store growth over a long-running process.
// Idle conversations are evicted least-recently-active first once the cap
// is reached.
const DefaultMaxConversations = 1024

type conversation struct {
	mu sync.Mutex

	id         string
	endpointID string
	activities []model.Activity
	createdAt  int64
	lastActive int64
}

// Store is the in-memory registry of active conversations plus bot state
// and attachment storage. The registry map is guarded by one RWMutex;
// each conversation carries its own lock so activity posts to the same
// conversation serialize while different conversations proceed in
// parallel.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*conversation
	botState      map[string]model.BotStateRecord
	attachments   map[string]model.Attachment

	maxConversations int
	evict            bool
	now              func() time.Time
}

type Options struct {
	// MaxConversations caps the registry; zero means DefaultMaxConversations.
	MaxConversations int
	// DisableEviction makes Create fail with ErrCapacity at the cap
	// instead of evicting the least-recently-active conversation.
	DisableEviction bool
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	maxConv := opts.MaxConversations
	if maxConv <= 0 {
		maxConv = DefaultMaxConversations
	}
	return &Store{
		conversations:    make(map[string]*conversation),
		botState:         make(map[string]model.BotStateRecord),
		attachments:      make(map[string]model.Attachment),
		maxConversations: maxConv,
		evict:            !opts.DisableEviction,
		now:              time.Now,
	}
}

// Conversation is a read-only snapshot handed out by the store.
type Conversation struct {
	ID         string
	EndpointID string
	Watermark  int64
	CreatedAt  int64
}

func (s *Store) CreateConversation(endpointID string) (Conversation, error) {
	nowMillis := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conversations) >= s.maxConversations {
		if !s.evict || !s.evictOldestLocked() {
			return Conversation{}, ErrCapacity
		}
	}

	conv := &conversation{
		id:         uuid.NewString(),
		endpointID: endpointID,
		createdAt:  nowMillis,
		lastActive: nowMillis,
	}
	s.conversations[conv.id] = conv
	return Conversation{ID: conv.id, EndpointID: endpointID, CreatedAt: nowMillis}, nil
}

// evictOldestLocked removes the conversation with the oldest activity.
// Caller holds s.mu.
func (s *Store) evictOldestLocked() bool {
	var victim *conversation
	for _, conv := range s.conversations {
		if victim == nil || conv.lastActive < victim.lastActive {
			victim = conv
		}
	}
	if victim == nil {
		return false
	}
	delete(s.conversations, victim.id)
	return true
}

func (s *Store) GetConversation(id string) (Conversation, bool) {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return Conversation{}, false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return Conversation{
		ID:         conv.id,
		EndpointID: conv.endpointID,
		Watermark:  int64(len(conv.activities)),
		CreatedAt:  conv.createdAt,
	}, true
}

func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	delete(s.conversations, id)
	return true
}

func (s *Store) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// PostActivity appends to the conversation in arrival order and returns
// the stored activity plus the new watermark. The activity id is
// generated when absent.
func (s *Store) PostActivity(conversationID string, act model.Activity) (model.Activity, int64, error) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return model.Activity{}, 0, ErrNotFound
	}

	now := s.now()

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	if act.Timestamp == "" {
		act.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	act.Conversation = model.ConversationAccount{ID: conversationID}

	conv.activities = append(conv.activities, act)
	conv.lastActive = now.UnixMilli()
	return act, int64(len(conv.activities)), nil
}

// ActivitiesSince returns all activities with sequence >= watermark in
// arrival order, plus the watermark covering everything returned.
// Calling it again with the same watermark and no intervening posts
// yields the identical result.
func (s *Store) ActivitiesSince(conversationID string, watermark int64) ([]model.Activity, int64, error) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	total := int64(len(conv.activities))
	if watermark < 0 {
		watermark = 0
	}
	if watermark > total {
		watermark = total
	}

	result := make([]model.Activity, total-watermark)
	copy(result, conv.activities[watermark:])
	return result, total, nil
}
