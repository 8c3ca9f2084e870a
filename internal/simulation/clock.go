package simulation

import (
	"sync"
	"time"
)

// DefaultStart is the simulated time runs begin at.
var DefaultStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// Clock is simulated time shared by a runtime and a runner. It only moves
// when advanced.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
