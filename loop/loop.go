// Package loop implements the loop joint filter (spec section 4.9): a
// single sub-pipeline whose every reply event is fed back into its own
// input. Reentrant feedback (a reply arriving while the outer input is
// still delivering upstream events) is queued rather than recursed into,
// bounding stack depth to one gate.Context frame regardless of how many
// times the loop cycles.
package loop

import (
	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/worker"
)

// Filter is the loop joint filter.
type Filter struct {
	filter.Base

	Layout *pipeline.Layout

	wctx     any
	arena    *arena.Arena[*pipeline.Pipeline]
	handle   arena.Handle
	feedback *buffer.EventBuffer
	draining bool
}

// New returns a loop filter wrapping a single sub-pipeline built from layout.
func New(layout *pipeline.Layout) *Filter {
	return &Filter{Layout: layout, feedback: buffer.NewEventBuffer()}
}

func (f *Filter) SetContext(ctx any) { f.wctx = ctx }

func (f *Filter) Clone() filter.Filter { return New(f.Layout) }

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

// sub resolves the current attempt's sub-pipeline through the arena, or
// nil if it was never spawned or has since been released.
func (f *Filter) sub() *pipeline.Pipeline {
	p, ok := f.pipelineArena().Get(f.handle)
	if !ok {
		return nil
	}

	return p
}

func (f *Filter) ensureSub() {
	if f.handle.Valid() {
		return
	}

	sub := pipeline.Make(f.Layout, f.wctx)
	f.handle = f.pipelineArena().Insert(sub)
	sub.SetHandle(f.handle)
	sub.Chain(f.onReply)
}

// onReply always queues, never recurses directly into f.sub. While a
// drainFeedback call is already in progress, it only needs to push: that
// call's own loop will pick the new event up on its next pass. Only the
// first reply outside of a drain needs to schedule one via OnLeave, which
// fires exactly once per outermost gate.Context frame.
func (f *Filter) onReply(ctx *gate.Context, ev event.Event) {
	if _, ok := ev.(*event.StreamEnd); ok {
		pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(f.handle) })
		f.Output(ctx, ev)

		return
	}

	f.feedback.Push(ev)

	if !f.draining {
		ctx.OnLeave(func() { f.drainFeedback(ctx) })
	}
}

func (f *Filter) drainFeedback(ctx *gate.Context) {
	f.draining = true
	defer func() { f.draining = false }()

	for f.feedback.Len() > 0 {
		sub := f.sub()
		if sub == nil {
			return
		}

		for _, ev := range f.feedback.Drain() {
			sub.Input()(ctx, ev)
		}
	}
}

// Process feeds ev into the sub-pipeline; its replies loop back via onReply.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	f.ensureSub()

	if sub := f.sub(); sub != nil {
		sub.Input()(ctx, ev)
	}
}

func (f *Filter) Reset() {
	if f.handle.Valid() {
		f.pipelineArena().Release(f.handle)
	}

	f.handle = arena.Handle{}
	f.feedback.Reset()
	f.draining = false
}
