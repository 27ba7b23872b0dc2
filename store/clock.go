package store

import (
	"sync/atomic"
	"time"
)

// Clock hands out creation timestamps. Successive stamps strictly increase so
// newest-first ordering never ties, even when the wall clock does not move.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a clock reading now, or time.Now when now is nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current wall time.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Next returns a timestamp later than every one returned before.
func (c *Clock) Next() time.Time {
	for {
		now := c.now().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}

// Observe makes later stamps follow t. Used for timestamps loaded from storage.
func (c *Clock) Observe(t time.Time) {
	n := t.UnixNano()
	for {
		last := c.last.Load()
		if n <= last || c.last.CompareAndSwap(last, n) {
			return
		}
	}
}
