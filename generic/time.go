package generic

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Supplies the current timestamp to the engine
// =============================================================================

// Clock is the time collaborator. The engine never calls time.Now directly so
// claim timestamps and rollover decisions are reproducible in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t. Moving backwards is ignored, the clock is monotonic.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t.UTC()
	}
}

func (c *FixedClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

// StartOfMonth returns midnight UTC on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfNextMonth returns midnight UTC on the first day of the following month.
func StartOfNextMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0)
}
