// Package testutil provides deterministic clocks and id generators for
// tests. Production code generates uuids and reads the wall clock; tests
// swap both out so stored rows and golden files are byte-stable.
package testutil

import "sync"

// Clock is a thread-safe deterministic unix-seconds clock. Each Tick
// advances by a fixed step, so seeded facts get distinct, ordered
// timestamps without touching the wall clock.
type Clock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewClock creates a clock at the given unix time advancing by step
// seconds per Tick.
func NewClock(start, step int64) *Clock {
	return &Clock{now: start, step: step}
}

// Now returns the current time without advancing.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock and returns the new time.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Set jumps the clock to an absolute time.
func (c *Clock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
