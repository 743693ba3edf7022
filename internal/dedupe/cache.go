// ABOUTME: Thread-safe TTL and size bounded set of seen keys
// ABOUTME: Suppresses redelivered engine events such as sync echoes of our own sends

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache tracks seen keys on top of an expirable LRU.
type Cache struct {
	// mu makes CheckAndMark atomic; the LRU locks each call on its own.
	mu     sync.Mutex
	seen   *expirable.LRU[string, struct{}]
	closed bool
}

// New creates a cache whose entries expire after ttl and which holds at
// most maxSize keys.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// Check reports whether key was marked and has not expired.
func (c *Cache) Check(key string) bool {
	_, ok := c.seen.Peek(key)
	return ok
}

// CheckAndMark atomically checks whether key was seen and marks it if not.
// It returns true for a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.seen.Peek(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Mark records key as seen, refreshing its expiry if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.seen.Add(key, struct{}{})
}

// Forget removes key so it is treated as new again.
func (c *Cache) Forget(key string) {
	c.seen.Remove(key)
}

// Len returns the number of keys held, including expired keys not yet
// swept.
func (c *Cache) Len() int {
	return c.seen.Len()
}

// Close drops all keys. Later marks are ignored. Safe to call twice.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.seen.Purge()
}
