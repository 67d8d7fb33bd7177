// Package fork implements the fork/forkJoin/forkRace joint filter family
// (spec section 4.4): spawn one sub-pipeline per element of an init list,
// clone every arriving event to every branch, and combine their outputs
// back into the main stream under one of three disciplines. Branches run
// cooperatively on the filter's own worker — there is no parallelism.
package fork

import (
	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/worker"
)

// Mode selects which of the three fork disciplines Process uses.
type Mode int

const (
	// ModeFork passes the main stream through unchanged; branch output is
	// ignored except branches still receive every event.
	ModeFork Mode = iota
	// ModeJoin suppresses the main output until every branch reaches
	// StreamEnd, then releases the buffered main stream.
	ModeJoin
	// ModeRace makes the first branch to emit anything the main output;
	// losing branches' StreamEnd is not propagated.
	ModeRace
)

// branch holds its sub-pipeline by arena.Handle rather than a raw pointer,
// so the branch outlives neither the arena slot nor a stale reference to a
// released one.
type branch struct {
	handle arena.Handle
	ended  bool
}

// Filter is the fork/forkJoin/forkRace joint filter.
type Filter struct {
	filter.Base

	Mode   Mode
	Layout *pipeline.Layout
	Init   []any

	wctx     any
	arena    *arena.Arena[*pipeline.Pipeline]
	branches []*branch
	winner   int // index of the race winner, -1 until one exists
	buffered *buffer.EventBuffer
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

// branchPipeline resolves b's sub-pipeline through the arena, or nil if its
// slot was already released.
func (f *Filter) branchPipeline(b *branch) *pipeline.Pipeline {
	p, ok := f.pipelineArena().Get(b.handle)
	if !ok {
		return nil
	}

	return p
}

// New returns a fork family filter. init is the per-branch start argument
// list; one branch is spawned per element (a single-element init for a
// scalar fork).
func New(mode Mode, layout *pipeline.Layout, init []any) *Filter {
	return &Filter{Mode: mode, Layout: layout, Init: init, winner: -1}
}

func (f *Filter) SetContext(ctx any) { f.wctx = ctx }

func (f *Filter) Clone() filter.Filter {
	return New(f.Mode, f.Layout, f.Init)
}

func (f *Filter) ensureBranches() {
	if f.branches != nil {
		return
	}

	f.branches = make([]*branch, len(f.Init))
	f.buffered = buffer.NewEventBuffer()

	a := f.pipelineArena()

	for i, arg := range f.Init {
		idx := i
		b := &branch{}
		sub := pipeline.Make(f.Layout, f.wctx)
		b.handle = a.Insert(sub)
		sub.SetHandle(b.handle)
		sub.Chain(func(ctx *gate.Context, ev event.Event) {
			f.onBranchEvent(ctx, idx, ev)
		})
		f.branches[i] = b

		if err := sub.Start(arg); err != nil {
			continue
		}
	}
}

func (f *Filter) onBranchEvent(ctx *gate.Context, idx int, ev event.Event) {
	if se, ok := ev.(*event.StreamEnd); ok {
		b := f.branches[idx]
		b.ended = true
		pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(b.handle) })

		if f.Mode == ModeJoin && f.allEnded() {
			f.releaseJoin(ctx)
		}

		if f.Mode == ModeRace && f.winner == idx {
			f.Output(ctx, se)
		}

		return
	}

	if f.Mode == ModeRace {
		if f.winner == -1 {
			f.winner = idx
		}

		if f.winner == idx {
			f.Output(ctx, ev)
		}
	}
}

func (f *Filter) allEnded() bool {
	for _, b := range f.branches {
		if !b.ended {
			return false
		}
	}

	return true
}

func (f *Filter) releaseJoin(ctx *gate.Context) {
	for _, ev := range f.buffered.Drain() {
		f.Output(ctx, ev)
	}
}

// Process clones ev to every branch in source order, then applies the
// selected mode's main-output discipline.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	f.ensureBranches()

	for _, b := range f.branches {
		if b.ended {
			continue
		}

		sub := f.branchPipeline(b)
		if sub == nil {
			continue
		}

		sub.Input()(ctx, event.Clone(ev))
	}

	switch f.Mode {
	case ModeFork:
		f.Output(ctx, ev)
	case ModeJoin:
		if f.allEnded() {
			f.Output(ctx, ev)
		} else {
			f.buffered.Push(ev)
		}
	case ModeRace:
		// handled entirely via onBranchEvent; the original upstream event
		// itself is not part of the race's main output.
	}
}

func (f *Filter) Reset() {
	for _, b := range f.branches {
		if !b.ended {
			f.pipelineArena().Release(b.handle)
		}
	}

	f.branches = nil
	f.buffered = nil
	f.winner = -1
}
