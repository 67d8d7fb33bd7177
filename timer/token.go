package timer

import (
	"context"
	"sync"
)

// Token is the cancel handle every armed timer returns. spec.md §5 requires
// that "every timer ... stores a cancel token cleared on reset()" so a
// filter's Reset() can deterministically stop a pending wait/replay/throttle
// refill instead of relying on context cancellation alone (a filter's
// sub-pipeline context may outlive the filter's own per-run state).
type Token struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func newToken(cancel context.CancelFunc) *Token {
	return &Token{cancel: cancel}
}

// Cancel stops the timer. Idempotent, safe to call from any goroutine,
// including from inside the timer's own callback.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	t.cancel()
}

// Stopped reports whether Cancel has already run.
func (t *Token) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stopped
}
