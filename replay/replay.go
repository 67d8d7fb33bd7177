// Package replay implements the replay joint filter (spec section 4.8): a
// single sub-pipeline whose input is buffered verbatim so a downstream
// StreamEnd{Kind: Replay} can cancel the current attempt, wait out a
// backoff delay, and retry by spawning a fresh sub-pipeline fed the same
// buffered events again. Any other StreamEnd ends replay mode and forwards.
//
// Grounded on loop's sub-pipeline-respawn idiom (spawn on demand, chain its
// output back through the filter) plus retry.BackoffStrategy for the delay
// option spec.md §4.8 describes as "static or callback". Like mux's idle
// timer, the backoff timer's callback runs on its own goroutine (see
// timer.AfterBuilder.Do), so every field it touches is guarded by f.mu.
package replay

import (
	"context"
	"sync"

	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/retry"
	"github.com/relaymesh/pipecore/timer"
	"github.com/relaymesh/pipecore/worker"
)

// Filter is the replay joint filter.
type Filter struct {
	filter.Base

	Layout *pipeline.Layout

	// MaxAttempts bounds the number of spawns, including the first; 0
	// means unbounded. Passing MaxAttempts: 1 makes replay identity (spec
	// section 8: "replay with 0 retries is identity").
	MaxAttempts int
	Backoff     retry.BackoffStrategy

	lifeCtx context.Context
	Clock   timer.Clock

	wctx  any
	arena *arena.Arena[*pipeline.Pipeline]
	buf   *buffer.EventBuffer

	mu      sync.Mutex
	handle  arena.Handle
	attempt int
	tk      *timer.Token
	done    bool
}

// New returns a replay filter wrapping layout. ctx bounds the lifetime of
// the backoff-delay timer; backoff defaults to retry.NoBackoff if nil.
func New(ctx context.Context, layout *pipeline.Layout, backoff retry.BackoffStrategy, clock timer.Clock) *Filter {
	if backoff == nil {
		backoff = retry.NoBackoff()
	}

	if clock == nil {
		clock = timer.SystemClock{}
	}

	return &Filter{Layout: layout, Backoff: backoff, lifeCtx: ctx, Clock: clock, buf: buffer.NewEventBuffer()}
}

func (f *Filter) SetContext(ctx any) { f.wctx = ctx }

func (f *Filter) Clone() filter.Filter {
	return New(f.lifeCtx, f.Layout, f.Backoff, f.Clock)
}

// pipelineArena returns the worker's shared Pipelines arena when wctx
// carries one, else a private arena scoped to this filter instance — used
// under test, where no worker.Context is wired in.
func (f *Filter) pipelineArena() *arena.Arena[*pipeline.Pipeline] {
	if f.arena == nil {
		if a := worker.ArenaFor(f.wctx); a != nil {
			f.arena = a
		} else {
			f.arena = arena.New[*pipeline.Pipeline]()
		}
	}

	return f.arena
}

// currentSub returns the in-flight attempt's sub-pipeline, spawning the
// first one lazily. Only the first spawn goes through here; retries go
// through respawn, which also replays the buffered events a fresh attempt
// needs that this one, by construction, never buffered anything for yet.
func (f *Filter) currentSub() *pipeline.Pipeline {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pipelineArena().Get(f.handle); ok {
		return p
	}

	f.attempt++
	sub := pipeline.Make(f.Layout, f.wctx)
	f.handle = f.pipelineArena().Insert(sub)
	sub.SetHandle(f.handle)
	sub.Chain(func(ctx *gate.Context, ev event.Event) { f.onReply(ctx, ev) })

	return sub
}

// respawn starts a fresh attempt and replays every buffered event into it
// verbatim (event.Clone, per spec.md §4.8's "deep-copies MessageStart
// identities; shares Data chunks"). Called from the backoff timer's own
// goroutine, long after ctx's original Enter/Leave frame already drained,
// or directly when the backoff delay is zero or less —
// re-entering ctx here (rather than feeding it at depth 0) gives any
// downstream Defer/OnLeave registration a frame to flush against.
func (f *Filter) respawn(ctx *gate.Context) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()

		return
	}

	f.attempt++
	sub := pipeline.Make(f.Layout, f.wctx)
	f.handle = f.pipelineArena().Insert(sub)
	sub.SetHandle(f.handle)
	sub.Chain(func(ctx *gate.Context, ev event.Event) { f.onReply(ctx, ev) })
	f.mu.Unlock()

	leave := ctx.Enter()
	defer leave()

	input := sub.Input()
	for _, ev := range f.buf.Snapshot() {
		input(ctx, event.Clone(ev))
	}
}

// Process buffers every non-terminal event (so a future retry can replay
// it) and forwards it into the current attempt's sub-pipeline.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if done {
		return
	}

	// A StreamEnd reaching Process (rather than onReply) is the upstream
	// cancelling replay outright; forward it and stop.
	if se, ok := ev.(*event.StreamEnd); ok {
		f.mu.Lock()
		f.done = true
		f.mu.Unlock()
		f.Output(ctx, se)

		return
	}

	f.buf.Push(ev)
	f.currentSub().Input()(ctx, ev)
}

// onReply handles an event emitted by the current attempt's sub-pipeline.
// Only StreamEnd is inspected; everything else passes straight through.
func (f *Filter) onReply(ctx *gate.Context, ev event.Event) {
	se, ok := ev.(*event.StreamEnd)
	if !ok {
		f.Output(ctx, ev)

		return
	}

	f.mu.Lock()
	maxedOut := f.MaxAttempts > 0 && f.attempt >= f.MaxAttempts
	attempt := f.attempt
	f.mu.Unlock()

	if se.Cause.Kind != event.Replay || maxedOut {
		f.mu.Lock()
		f.done = true
		stale := f.handle
		f.handle = arena.Handle{}
		f.mu.Unlock()
		pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(stale) })
		f.Output(ctx, se)

		return
	}

	f.mu.Lock()
	stale := f.handle
	f.handle = arena.Handle{}
	f.mu.Unlock()
	pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(stale) })

	delay := f.Backoff(attempt)
	if delay <= 0 {
		f.respawn(ctx)

		return
	}

	f.mu.Lock()
	f.tk = timer.After(f.lifeCtx, delay, f.Clock).Do(func(context.Context) { f.respawn(ctx) })
	f.mu.Unlock()
}

func (f *Filter) Reset() {
	f.mu.Lock()
	if f.tk != nil {
		f.tk.Cancel()
	}

	if f.handle.Valid() {
		f.pipelineArena().Release(f.handle)
	}

	f.handle = arena.Handle{}
	f.tk = nil
	f.attempt = 0
	f.done = false
	f.mu.Unlock()

	f.buf.Reset()
}

var (
	_ filter.Filter        = (*Filter)(nil)
	_ filter.ContextSetter = (*Filter)(nil)
)
