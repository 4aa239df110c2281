package testutil

import (
	"sync"
	"time"
)

// AdjustableClock is a Clock whose current time is set and advanced by the
// test. Safe for concurrent use.
type AdjustableClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewAdjustableClock creates a clock frozen at the given time.
func NewAdjustableClock(now time.Time) *AdjustableClock {
	return &AdjustableClock{now: now.UTC()}
}

// Now returns the clock's current time.
func (c *AdjustableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *AdjustableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Set moves the clock to the given time.
func (c *AdjustableClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now.UTC()
}
