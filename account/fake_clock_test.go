package account_test

import (
	"sync"
	"time"
)

// fakeClock is a minimal timer.Clock for deterministic sweep tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	deadline := c.Now().Add(d)

	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			if !c.Now().Before(deadline) {
				ch <- deadline

				return
			}
		}
	}()

	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
