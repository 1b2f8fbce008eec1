package local

import (
	"context"
	"sync"
	"time"
)

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

type entry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LocalCache is an in-process KV cache with TTL support. Used when no Redis
// address is configured; safe for concurrent use.
type LocalCache struct {
	mu     sync.RWMutex
	data   map[string]*entry
	stopGC chan struct{}
}

// NewCache creates a LocalCache and starts its expiry GC loop.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		data:   make(map[string]*entry),
		stopGC: make(chan struct{}),
	}
	go c.gcLoop(interval)
	return c, nil
}

// Close stops the GC loop.
func (c *LocalCache) Close() {
	select {
	case <-c.stopGC:
	default:
		close(c.stopGC)
	}
}

func (c *LocalCache) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.data {
				if e.expired(now) {
					delete(c.data, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// Get returns the value for key, or "" if absent or expired.
func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return "", nil
	}
	return e.value, nil
}

// Set stores the value with an optional TTL (ttl <= 0 means no expiry).
func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return nil
}

// Del removes the given keys.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

// Exists reports whether key is present and not expired.
func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	return ok && !e.expired(time.Now()), nil
}
