// Package cache provides TTL caches for category metadata and relay
// deduplication: an in-process map and a Redis-backed variant for
// deployments running more than one replica.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) live(now time.Time) bool { return now.Before(e.expiresAt) }

// InMemory is a process-local TTL cache. Expired entries are swept on write,
// at most once per TTL.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration
	swept time.Time
	now   func() time.Time
}

// New creates an in-memory cache. A non-positive ttl falls back to a minute.
func New[T any](ttl time.Duration) *InMemory[T] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &InMemory[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the live value for key.
func (c *InMemory[T]) Get(_ context.Context, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || !e.live(c.now()) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value for one TTL, replacing any previous entry.
func (c *InMemory[T]) Set(_ context.Context, key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)
	c.items[key] = entry[T]{value: value, expiresAt: now.Add(c.ttl)}
}

// SetIfAbsent stores value only when key is missing or expired and reports
// whether it did.
func (c *InMemory[T]) SetIfAbsent(_ context.Context, key string, value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok && e.live(now) {
		return false
	}
	c.sweep(now)
	c.items[key] = entry[T]{value: value, expiresAt: now.Add(c.ttl)}
	return true
}

// Delete removes key.
func (c *InMemory[T]) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones not yet swept included.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// sweep drops expired entries. Caller holds the write lock.
func (c *InMemory[T]) sweep(now time.Time) {
	if now.Sub(c.swept) < c.ttl {
		return
	}
	c.swept = now
	for k, e := range c.items {
		if !e.live(now) {
			delete(c.items, k)
		}
	}
}
