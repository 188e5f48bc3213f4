package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe manual time source for tests.
//
// Unlike the real clock it only moves when told to, so every timestamp
// a component reads from it is reproducible. Sharing one Clock across
// the audit trail, the rollback manager, and the loop controller makes
// a whole scenario's timestamps byte-stable for golden comparison.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current instant without advancing.
//
// Pass the method value (clock.Now) wherever a component accepts a
// func() time.Time clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
//
// Used for test reuse. Set may move the clock backwards; components
// that require monotonic time should use Advance only.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
