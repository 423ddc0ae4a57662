package plan

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long displayed plans stay reusable.
const DefaultCacheTTL = 30 * time.Minute

type cacheEntry struct {
	plans  []Plan
	stored time.Time
}

// Cache keeps the plans last shown in each session so a confirmation can
// reuse them instead of regenerating.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a Cache. ttl <= 0 uses DefaultCacheTTL; a nil clock
// uses time.Now.
func NewCache(ttl time.Duration, clock func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{ttl: ttl, now: clock, entries: make(map[string]cacheEntry)}
}

// Put stores plans for a session, replacing any previous entry.
func (c *Cache) Put(sessionID string, plans []Plan) {
	if sessionID == "" || len(plans) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.stored) >= c.ttl {
			delete(c.entries, id)
		}
	}
	c.entries[sessionID] = cacheEntry{plans: plans, stored: now}
}

// Get returns unexpired plans for a session.
func (c *Cache) Get(sessionID string) ([]Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, sessionID)
		return nil, false
	}
	return e.plans, true
}

// Delete drops a session's entry.
func (c *Cache) Delete(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
