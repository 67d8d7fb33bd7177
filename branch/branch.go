// Package branch implements the branch/branchMessage joint filter (spec
// section 4.5): a sequence of (condition, sub-layout) pairs plus an
// optional default. branch decides at the first event; branchMessage
// buffers a complete message first, evaluates conditions against it, then
// replays the buffered message through the chosen sub-layout verbatim.
package branch

import (
	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/worker"
)

// Case pairs a predicate with the sub-layout selected when it matches.
// Condition receives the triggering event (branch) or the complete
// buffered message's MessageStart (branchMessage); a nil Condition marks
// the default case, matched only if no other case does.
type Case struct {
	Condition func(ev event.Event) bool
	Layout    *pipeline.Layout
}

// Filter is the branch/branchMessage joint filter. WaitForMessage selects
// branchMessage semantics; false selects branch (commit on first event).
type Filter struct {
	filter.Base

	Cases          []Case
	WaitForMessage bool

	wctx      any
	arena     *arena.Arena[*pipeline.Pipeline]
	committed arena.Handle
	buf       *buffer.MessageBuffer
}

// New returns a branch/branchMessage filter over cases, evaluated in order
// with the first matching (or nil-Condition default) case winning.
func New(waitForMessage bool, cases []Case) *Filter {
	return &Filter{Cases: cases, WaitForMessage: waitForMessage}
}

func (f *Filter) SetContext(ctx any) { f.wctx = ctx }

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

// committedPipeline resolves the committed branch's sub-pipeline through
// the arena, or nil if none has committed yet (or its slot was released).
func (f *Filter) committedPipeline() *pipeline.Pipeline {
	p, ok := f.pipelineArena().Get(f.committed)
	if !ok {
		return nil
	}

	return p
}

func (f *Filter) Clone() filter.Filter {
	return New(f.WaitForMessage, f.Cases)
}

func (f *Filter) selectCase(ev event.Event) *Case {
	var fallback *Case

	for i := range f.Cases {
		c := &f.Cases[i]
		if c.Condition == nil {
			fallback = c

			continue
		}

		if c.Condition(ev) {
			return c
		}
	}

	return fallback
}

func (f *Filter) commit(ctx *gate.Context, c *Case, replay []event.Event) {
	sub := pipeline.Make(c.Layout, f.wctx)
	f.committed = f.pipelineArena().Insert(sub)
	sub.SetHandle(f.committed)

	handle := f.committed
	sub.Chain(func(ctx *gate.Context, ev event.Event) {
		if _, ok := ev.(*event.StreamEnd); ok {
			pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(handle) })
		}

		f.Output(ctx, ev)
	})

	input := sub.Input()
	for _, ev := range replay {
		input(ctx, ev)
	}
}

// Process implements both disciplines. After commit, subsequent events
// pass directly to the chosen branch's input. If no case matches
// (including no default), events are silently dropped — not an error.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	if sub := f.committedPipeline(); sub != nil {
		sub.Input()(ctx, ev)

		return
	}

	if !f.WaitForMessage {
		c := f.selectCase(ev)
		if c == nil {
			return
		}

		f.commit(ctx, c, []event.Event{ev})

		return
	}

	if f.buf == nil {
		f.buf = buffer.NewMessageBuffer()
	}

	msg := f.buf.Push(ev)
	if msg == nil {
		if _, isStreamEnd := ev.(*event.StreamEnd); isStreamEnd {
			f.buf.Other() // drop; nothing buffered needs flushing for a bare StreamEnd
			f.Output(ctx, ev)
		}

		return
	}

	c := f.selectCase(msg.Start)
	if c == nil {
		return
	}

	f.commit(ctx, c, msg.Events())
}

func (f *Filter) Reset() {
	if f.committed.Valid() {
		f.pipelineArena().Release(f.committed)
	}

	f.committed = arena.Handle{}
	f.buf = nil
}
