package timer

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// WallClock follows the system time.
type WallClock struct{}

func (WallClock) Now() time.Time {
	return time.Now()
}

// PseudoClock only moves when told to, timers due against it fire deterministically.
type PseudoClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewPseudoClock(start time.Time) *PseudoClock {
	return &PseudoClock{now: start}
}

func (c *PseudoClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and returns the new time.
func (c *PseudoClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *PseudoClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
