// Package mux implements the mux/demux joint filter family (spec section
// 4.3), the multiplexing core: demux splits one inbound stream into many
// logical requests, each served by its own sub-pipeline; mux folds many
// logical requests into one shared sub-pipeline per session key.
//
// Grounded on the sub-pipeline-spawning idiom established by
// fork/branch/link (pipeline.Make against a resolved Layout), specialized
// here to per-request fan-out (demux) and session pooling (mux). Per
// SPEC_FULL.md §4.3's concrete addition, the framing layer this package
// assumes is HTTP/1.1: each logical request/response is one complete
// event.MessageStart…MessageEnd message rather than a raw byte stream —
// byte-level deframing into that shape is deframe.Machine's job (spec
// section 4.14), upstream of demux in a listener's filter chain.
package mux

import (
	"github.com/google/uuid"

	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/logger"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/worker"
)

// slot is one logical request's response, held until every earlier
// request's response has already been released — demux's ordering
// guarantee (spec.md §4.3: "serializes them back in request order").
type slot struct {
	out    []event.Event
	done   bool
	trace  string // uuid identifying this request's sub-pipeline in logs
	handle arena.Handle
}

// Demux is the demux joint filter: one sub-pipeline per logical request,
// cloned from Layout, fed that request's events, its response events
// collected and released onto Demux's own output strictly in the order
// requests arrived.
type Demux struct {
	filter.Base

	Layout *pipeline.Layout

	wctx  any
	arena *arena.Arena[*pipeline.Pipeline]
	inbuf *buffer.MessageBuffer
	queue []*slot
}

// pipelineArena returns the worker's shared Pipelines arena when wctx
// carries one, else a private arena scoped to this filter instance — used
// under test, where no worker.Context is wired in.
func (f *Demux) pipelineArena() *arena.Arena[*pipeline.Pipeline] {
	if f.arena == nil {
		if a := worker.ArenaFor(f.wctx); a != nil {
			f.arena = a
		} else {
			f.arena = arena.New[*pipeline.Pipeline]()
		}
	}

	return f.arena
}

// NewDemux returns a demux filter spawning request sub-pipelines from layout.
func NewDemux(layout *pipeline.Layout) *Demux {
	return &Demux{Layout: layout, inbuf: buffer.NewMessageBuffer()}
}

func (f *Demux) SetContext(ctx any) { f.wctx = ctx }

func (f *Demux) Clone() filter.Filter { return NewDemux(f.Layout) }

// log returns a logger scoped to this filter, or nil when no worker
// context carrying one is available (e.g. under test).
func (f *Demux) log() logger.Logger {
	wc, ok := f.wctx.(*worker.Context)
	if !ok || wc.Worker == nil || wc.Worker.Log == nil {
		return nil
	}

	return logger.ForFilter(logger.ForPipeline(wc.Worker.Log, f.Layout.Name), "demux", 0)
}

// Process assembles ev into the request currently forming; once a
// complete message is assembled it spawns a new request sub-pipeline.
// A connection-level StreamEnd is forwarded directly to Demux's own output;
// it is not fed to request sub-pipelines still in flight.
func (f *Demux) Process(ctx *gate.Context, ev event.Event) {
	if se, ok := ev.(*event.StreamEnd); ok {
		// Connection-level termination: forwarded directly. In-flight
		// request sub-pipelines are left to finish on their own terms —
		// their responses still flush via onResponse/flush as they land.
		f.Output(ctx, se)

		return
	}

	msg := f.inbuf.Push(ev)
	if msg == nil {
		return
	}

	f.spawn(ctx, msg)
}

func (f *Demux) spawn(ctx *gate.Context, msg *buffer.Message) {
	s := &slot{trace: uuid.NewString()}
	f.queue = append(f.queue, s)

	if log := f.log(); log != nil {
		log.Debug("request sub-pipeline spawned", "trace", s.trace)
	}

	respBuf := buffer.NewMessageBuffer()
	sub := pipeline.Make(f.Layout, f.wctx)
	s.handle = f.pipelineArena().Insert(sub)
	sub.SetHandle(s.handle)
	sub.Chain(func(ctx *gate.Context, ev event.Event) {
		f.onResponse(ctx, s, respBuf, ev)
	})

	input := sub.Input()
	for _, e := range msg.Events() {
		input(ctx, e)
	}
}

func (f *Demux) onResponse(ctx *gate.Context, s *slot, respBuf *buffer.MessageBuffer, ev event.Event) {
	if se, ok := ev.(*event.StreamEnd); ok {
		s.out = append(s.out, se)
		s.done = true
		pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(s.handle) })

		if log := f.log(); log != nil {
			log.Debug("request sub-pipeline done", "trace", s.trace)
		}

		f.flush(ctx)

		return
	}

	s.out = append(s.out, ev)
	if respBuf.Push(ev) != nil {
		s.done = true
	}

	f.flush(ctx)
}

func (f *Demux) flush(ctx *gate.Context) {
	for len(f.queue) > 0 && f.queue[0].done {
		s := f.queue[0]
		f.queue = f.queue[1:]

		for _, ev := range s.out {
			f.Output(ctx, ev)
		}
	}
}

func (f *Demux) Reset() {
	for _, s := range f.queue {
		if !s.done {
			f.pipelineArena().Release(s.handle)
		}
	}

	f.inbuf.Reset()
	f.queue = nil
}

var (
	_ filter.Filter        = (*Demux)(nil)
	_ filter.ContextSetter = (*Demux)(nil)
)
