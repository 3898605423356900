package agent

import (
	"container/list"
	"sync"
)

// Cache keeps one live Agent per session so tool rounds and model
// context survive across turns. Bounded LRU; evicting an agent only
// drops its in-memory context, the durable history stays in the
// session store and is re-seeded on the next build.
type Cache struct {
	mu      sync.Mutex
	max     int
	ll      *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	sessionID string
	agent     *Agent
}

// NewCache returns an LRU agent cache holding at most max agents.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 256
	}
	return &Cache{
		max:     max,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the cached agent for a session. A hit with a different
// model than the session wants must be evicted by the caller; the cache
// does not know the session's current model.
func (c *Cache) Get(sessionID string) (*Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).agent, true
}

// Put stores an agent, evicting the least-recently-used one past the
// bound.
func (c *Cache) Put(sessionID string, a *Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[sessionID]; ok {
		el.Value.(*cacheEntry).agent = a
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{sessionID: sessionID, agent: a})
	c.entries[sessionID] = el
	if c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).sessionID)
	}
}

// Evict drops a session's agent, used when the session's model changes
// or its history is rejected as corrupted.
func (c *Cache) Evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[sessionID]; ok {
		c.ll.Remove(el)
		delete(c.entries, sessionID)
	}
}

// Len reports how many agents are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
