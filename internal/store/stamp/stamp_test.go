package stamp

import (
	"testing"
	"time"
)

func TestNext_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(func() time.Time { return fixed })

	a := c.Next()
	b := c.Next()
	if !b.After(a) {
		t.Fatalf("expected %v after %v", b, a)
	}
	if b.Sub(a) != time.Microsecond {
		t.Errorf("expected 1µs step, got %v", b.Sub(a))
	}
}

func TestNext_ClockGoingBackwards(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(func() time.Time { return now })
	first := c.Next()

	now = now.Add(-time.Hour)
	if second := c.Next(); !second.After(first) {
		t.Fatalf("timestamps must not go backwards: %v then %v", first, second)
	}
}
