package monitor

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source of the monitor loop
type Clock interface {
	// Now returns the current time. Only differences between two Now values are used, so the
	// monotonic reading of time.Now is what matters.
	Now() time.Time

	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration)
}

// WallClock is the production Clock backed by the OS clock
type WallClock struct{}

var _ Clock = WallClock{}

func (WallClock) Now() time.Time {
	return time.Now()
}

func (WallClock) Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ManualClock only moves when Sleep or Advance is called. It makes the monitor loop
// deterministic in tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ Clock = (*ManualClock)(nil)

// NewManualClock returns a clock that starts at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d without blocking
func (c *ManualClock) Sleep(_ context.Context, d time.Duration) {
	c.Advance(d)
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Elapsed returns how far the clock has moved since start
func (c *ManualClock) Elapsed(start time.Time) time.Duration {
	return c.Now().Sub(start)
}
