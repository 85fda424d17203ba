// Package stamp hands out strictly increasing creation timestamps so rows
// written in quick succession still sort in write order.
package stamp

import (
	"sync"
	"time"
)

type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// New returns a clock backed by now; nil means time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a UTC time strictly after every value it returned before.
// Stores keep microsecond precision, so increments are one microsecond.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
