package token

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is an issued user token for a simulated OAuth connection.
type Entry struct {
	AgentID        string    `json:"agentId"`
	UserID         string    `json:"userId"`
	ConnectionName string    `json:"connectionName"`
	Token          string    `json:"token"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// Cache holds at most one live token per (agentID, userID, connectionName)
// triple. Tokens live for the process lifetime unless signed out.
type Cache struct {
	mu      sync.Mutex
	byKey   map[string]Entry
	byToken map[string]string // token -> key
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		byKey:   make(map[string]Entry),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

func cacheKey(agentID, userID, connectionName string) string {
	return agentID + "|" + userID + "|" + connectionName
}

// Issue generates a fresh opaque token, replacing any existing entry for
// the same triple.
func (c *Cache) Issue(agentID, userID, connectionName string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(raw)

	key := cacheKey(agentID, userID, connectionName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.byKey[key]; ok {
		delete(c.byToken, prev.Token)
	}
	c.byKey[key] = Entry{
		AgentID:        agentID,
		UserID:         userID,
		ConnectionName: connectionName,
		Token:          tok,
		IssuedAt:       c.now(),
	}
	c.byToken[tok] = key
	return tok, nil
}

func (c *Cache) Lookup(tok string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.byToken[tok]
	if !ok {
		return Entry{}, false
	}
	entry, ok := c.byKey[key]
	return entry, ok
}

func (c *Cache) Get(agentID, userID, connectionName string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byKey[cacheKey(agentID, userID, connectionName)]
	return entry, ok
}

// SignOut removes the entry for the triple if present. Absence is not an
// error; repeated sign-outs are no-ops.
func (c *Cache) SignOut(agentID, userID, connectionName string) {
	key := cacheKey(agentID, userID, connectionName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.byKey[key]; ok {
		delete(c.byToken, entry.Token)
		delete(c.byKey, key)
	}
}
