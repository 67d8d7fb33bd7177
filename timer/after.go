package timer

import (
	"context"
	"time"
)

// AfterBuilder schedules a one-time execution after a delay. Grounded on the
// teacher's scheduler.After/Do builder; adapted to return a cancel Token and
// to run against an injectable Clock instead of the bare time package.
type AfterBuilder struct {
	ctx      context.Context
	duration time.Duration
	clock    Clock
}

// After schedules a callback to run once after duration, relative to clock.
func After(ctx context.Context, duration time.Duration, clock Clock) AfterBuilder {
	if clock == nil {
		clock = SystemClock{}
	}

	return AfterBuilder{ctx: ctx, duration: duration, clock: clock}
}

// Do arms the timer and returns a Token the caller can Cancel to stop it
// before it fires. The callback runs on its own goroutine and receives
// b.ctx itself, so cancellation-aware work can observe its parent being
// done; cancelling the Token once the callback has started does not reach it.
func (b AfterBuilder) Do(callback func(context.Context)) *Token {
	runCtx, cancel := context.WithCancel(b.ctx)
	tok := newToken(cancel)

	go func() {
		select {
		case <-runCtx.Done():
			return
		case <-b.clock.After(b.duration):
			tok.Cancel()
			if b.ctx.Err() == nil {
				callback(b.ctx)
			}
		}
	}()

	return tok
}
