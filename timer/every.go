package timer

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// EveryBuilder schedules a callback to run on a repeating interval.
// Grounded on the teacher's scheduler.Every/Do builder (including its
// panic-recovery-and-log-then-continue behavior); adapted to an injectable
// Clock and to return a cancel Token.
type EveryBuilder struct {
	ctx      context.Context
	duration time.Duration
	clock    Clock
}

// Every schedules a callback to run every duration, relative to clock.
func Every(ctx context.Context, duration time.Duration, clock Clock) EveryBuilder {
	if clock == nil {
		clock = SystemClock{}
	}

	return EveryBuilder{ctx: ctx, duration: duration, clock: clock}
}

// Do arms the repeating timer and returns a Token to stop it.
func (b EveryBuilder) Do(callback func(context.Context)) *Token {
	runCtx, cancel := context.WithCancel(b.ctx)
	tok := newToken(cancel)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-b.clock.After(b.duration):
				if runCtx.Err() != nil {
					return
				}
				runGuarded(b.ctx, callback)
			}
		}
	}()

	return tok
}

func runGuarded(ctx context.Context, callback func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("timer: panic in job: %v\n%s", r, debug.Stack())
		}
	}()

	callback(ctx)
}
