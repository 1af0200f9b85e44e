// Package cache holds the last published display snapshot so other processes (and the next
// start of this one) can read it.
package cache

import (
	"sync"
	"time"
)

// MemoryCache is an in-process cache with per-entry expiry
type MemoryCache struct {
	mu      sync.RWMutex
	items   map[string]entry
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// NewMemory creates a cache whose janitor sweeps expired entries every sweep interval
func NewMemory(sweep time.Duration) *MemoryCache {
	if sweep <= 0 {
		sweep = time.Minute
	}
	c := &MemoryCache{
		items:  make(map[string]entry),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go c.janitor(sweep)
	return c
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e.value, true
}

// SetWithTTL stores value; a non-positive ttl keeps it until deleted.
func (c *MemoryCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = e
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Close stops the janitor. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.stopped.Do(func() { close(c.stopCh) })
	return nil
}

func (c *MemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
		}
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Ensure MemoryCache implements Cache interface
var _ Cache = (*MemoryCache)(nil)
