// Filter-family convenience methods: one thin wrapper per joint filter
// constructor, so a layout reads as a chain of Designer calls the way a
// script's `<filterName>(args…)` chain does, instead of callers importing
// every joint filter package directly.
package designer

import (
	"context"
	"time"

	"github.com/relaymesh/pipecore/branch"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/fork"
	"github.com/relaymesh/pipecore/handle"
	"github.com/relaymesh/pipecore/hub"
	"github.com/relaymesh/pipecore/link"
	"github.com/relaymesh/pipecore/loop"
	"github.com/relaymesh/pipecore/mux"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/replace"
	"github.com/relaymesh/pipecore/replay"
	"github.com/relaymesh/pipecore/retry"
	"github.com/relaymesh/pipecore/throttle"
	"github.com/relaymesh/pipecore/timer"
	"github.com/relaymesh/pipecore/wait"
)

// Fork appends a fork/forkJoin/forkRace filter: one sub-pipeline per
// element of init, every arriving event cloned to each.
func (d *Designer) Fork(mode fork.Mode, layout *pipeline.Layout, init []any) *Designer {
	return d.Use(fork.New(mode, layout, init))
}

// Branch appends a branch/branchMessage filter over cases, evaluated in
// order with the first matching (or nil-Condition default) case winning.
func (d *Designer) Branch(waitForMessage bool, cases []branch.Case) *Designer {
	return d.Use(branch.New(waitForMessage, cases))
}

// LinkByName appends a link filter resolving its target against the
// owning layout's Named table at Bind time.
func (d *Designer) LinkByName(name string) *Designer {
	return d.Use(link.ByName(name))
}

// LinkByFunc appends a link filter whose target is produced by fn.
func (d *Designer) LinkByFunc(fn func(wctx any) *pipeline.Layout) *Designer {
	return d.Use(link.ByFunc(fn))
}

// Pipe appends pipe, link's per-event dynamic variant: the target layout
// is looked up per event via target or targetMap/key.
func (d *Designer) Pipe(target func(ev event.Event) *pipeline.Layout, targetMap map[string]*pipeline.Layout, key func(ev event.Event) string, initArgs any) *Designer {
	return d.Use(link.NewPipe(target, targetMap, key, initArgs))
}

// PipeNext appends pipeNext, which continues into the owning layout's own
// Chain list.
func (d *Designer) PipeNext() *Designer {
	return d.Use(link.NewPipeNext())
}

// Loop appends a loop filter: each sub-pipeline's own output re-enters it
// as input until the sub-pipeline ends itself.
func (d *Designer) Loop(layout *pipeline.Layout) *Designer {
	return d.Use(loop.New(layout))
}

// Replay appends a replay filter: the buffered input replays into a fresh
// sub-pipeline attempt after a StreamEnd{Replay}, honoring backoff and
// maxAttempts.
func (d *Designer) Replay(ctx context.Context, layout *pipeline.Layout, maxAttempts int, backoff retry.BackoffStrategy, clock timer.Clock) *Designer {
	f := replay.New(ctx, layout, backoff, clock)
	f.MaxAttempts = maxAttempts

	return d.Use(f)
}

// Mux appends a mux filter: requests are grouped into sessions by
// selector and multiplexed onto one shared sub-pipeline per session.
func (d *Designer) Mux(ctx context.Context, layout *pipeline.Layout, selector mux.SessionSelector, clock timer.Clock) *Designer {
	return d.Use(mux.NewMux(ctx, layout, selector, clock))
}

// Demux appends a demux filter: each request spawns its own sub-pipeline,
// replies reordered back to request order.
func (d *Designer) Demux(layout *pipeline.Layout) *Designer {
	return d.Use(mux.NewDemux(layout))
}

// Swap appends a swap filter wired to a fixed Hub.
func (d *Designer) Swap(h *hub.Hub) *Designer {
	return d.Use(hub.ByHub(h))
}

// SwapFunc appends a swap filter whose Hub is resolved lazily from the
// owning pipeline's worker context.
func (d *Designer) SwapFunc(fn func(wctx any) *hub.Hub) *Designer {
	return d.Use(hub.ByHubFunc(fn))
}

// Wait appends a wait filter: events are held until condition is true (or
// timeout elapses), then flushed in arrival order.
func (d *Designer) Wait(ctx context.Context, condition func() bool, timeout time.Duration, clock timer.Clock, group *wait.Group) *Designer {
	return d.Use(wait.New(ctx, condition, timeout, clock, group))
}

// ThrottleMessageRate appends a throttleMessageRate filter: one
// quota.Messages token spent per MessageStart.
func (d *Designer) ThrottleMessageRate(ctx context.Context, cfg throttle.Config) *Designer {
	return d.Use(throttle.NewMessageRate(ctx, cfg))
}

// ThrottleDataRate appends a throttleDataRate filter: quota.Bytes spent
// per Data chunk, splitting a chunk at the bucket boundary rather than
// queuing it whole.
func (d *Designer) ThrottleDataRate(ctx context.Context, cfg throttle.Config) *Designer {
	return d.Use(throttle.NewDataRate(ctx, cfg))
}

// ThrottleConcurrency appends a throttleConcurrency filter: one
// quota.Slots token spent once per stream, returned on StreamEnd.
func (d *Designer) ThrottleConcurrency(ctx context.Context, cfg throttle.Config) *Designer {
	return d.Use(throttle.NewConcurrency(ctx, cfg))
}

// Handle appends a handle filter: every event passes through unchanged
// except the one(s) matching trigger, held until callback resumes.
func (d *Designer) Handle(trigger handle.Trigger, callback handle.Callback) *Designer {
	return d.Use(handle.New(trigger, callback))
}

// Replace appends a replace filter: callback's return value substitutes
// the triggering aggregate.
func (d *Designer) Replace(trigger replace.Trigger, callback replace.Callback) *Designer {
	return d.Use(replace.New(trigger, callback))
}
