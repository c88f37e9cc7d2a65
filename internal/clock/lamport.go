// Package clock implements a Lamport logical clock.
package clock

import "sync"

// Clock is a Lamport logical clock, safe for concurrent use. All reads
// and updates are serialized through a single mutex.
type Clock struct {
	mu    sync.Mutex
	value uint64
}

// New returns a clock starting at 0.
func New() *Clock {
	return &Clock{}
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe applies the receive rule: value <- max(value, ts) + 1. Returns
// the new value.
func (c *Clock) Observe(ts uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.value {
		c.value = ts
	}
	c.value++
	return c.value
}

// Value returns the current value without advancing the clock.
func (c *Clock) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
