// Package tokencache holds the process-local mapping from a cache key
// (agent + scope) to a cached bearer token and its absolute expiry.
//
// The cache itself does not serialize concurrent refreshes for the same
// key - that compound tryGet/fetch/add action is the caller's
// responsibility (see package forgeauth), per spec.
package tokencache

import (
	"sync"
	"time"
)

// Entry is a cached bearer token and the instant it stops being valid.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

func (e Entry) liveAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Key builds the cache key for an (agent, scope) pair. An empty agent means
// the default identity. A delimiter keeps ("a", "bscope") from colliding
// with ("ab", "scope"), which bare concatenation would not.
func Key(agent, scope string) string {
	return agent + "|" + scope
}

// Cache is a concurrent-safe, process-local token cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// TryGet returns the live entry for key, or reports found=false if there is
// none or it has expired. An expired entry is evicted on the way out.
func (c *Cache) TryGet(key string) (token string, found bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !entry.liveAt(c.now()) {
		c.evict(key)
		return "", false
	}
	return entry.Token, true
}

// Add inserts or overwrites the entry for key with expiresAt = now + ttl.
// There is no in-place update: a refresh always inserts a fresh entry.
func (c *Cache) Add(key, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Token: token, ExpiresAt: c.now().Add(ttl)}
}

func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && !entry.liveAt(c.now()) {
		delete(c.entries, key)
	}
}
