package timer

import "time"

// Clock abstracts wall-clock time so the throttle family's rate-window
// tests (spec.md §8: "throttleDataRate never emits more than N bytes in any
// 1-second window, averaged over >=2 windows") can run against a fake clock
// instead of sleeping in real time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the Clock used in production; it delegates straight to the
// time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ Clock = SystemClock{}
