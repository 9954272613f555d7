package cache

import "time"

// SetClock swaps the cache's time source.
func (c *InMemory[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
