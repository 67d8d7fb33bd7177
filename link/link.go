// Package link implements the link/pipe/pipeNext joint filter family
// (spec section 4.6): all three delegate some or all of the event stream
// to another pipeline, differing only in how that target is found.
//
// Grounded on the same sub-pipeline-spawning idiom as fork/branch/loop
// (pipeline.Make against a resolved Layout, chained to the filter's own
// Output), specialized here to a single transparent relay rather than a
// fan-out or commit decision.
package link

import (
	"fmt"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
)

// Link spawns one sub-pipeline — by name, resolved against the owning
// Layout's Named table, or by Fn — and forwards every event into it for
// the filter's lifetime. Exactly one of Name or Fn should be set.
type Link struct {
	filter.Base

	Name string
	Fn   func(wctx any) *pipeline.Layout

	wctx     any
	layout   *pipeline.Layout
	resolved *pipeline.Layout
	sub      *pipeline.Pipeline
	bindErr  error
}

// ByName returns a Link that resolves its target against the owning
// Layout's named sub-layouts at Bind time.
func ByName(name string) *Link { return &Link{Name: name} }

// ByFunc returns a Link whose target is produced by fn, called once on
// first use with the owning pipeline's worker context.
func ByFunc(fn func(wctx any) *pipeline.Layout) *Link { return &Link{Fn: fn} }

func (f *Link) SetContext(ctx any) { f.wctx = ctx }

func (f *Link) SetLayout(layout any) {
	if l, ok := layout.(*pipeline.Layout); ok {
		f.layout = l
	}
}

// Bind resolves Name against the owning Layout's Named table. Fn-based
// links resolve lazily on first Process instead, since Fn may depend on
// the worker context set after Bind.
func (f *Link) Bind() error {
	if f.Name == "" {
		return nil
	}

	sub, ok := f.layout.Resolve(f.Name)
	if !ok {
		f.bindErr = fmt.Errorf("link: no sub-layout named %q", f.Name)

		return f.bindErr
	}

	f.resolved = sub

	return nil
}

func (f *Link) Clone() filter.Filter { return &Link{Name: f.Name, Fn: f.Fn} }

func (f *Link) ensureSub() {
	if f.sub != nil {
		return
	}

	target := f.resolved
	if target == nil && f.Fn != nil {
		target = f.Fn(f.wctx)
	}

	if target == nil {
		return
	}

	f.sub = pipeline.Make(target, f.wctx)
	f.sub.Chain(f.Output)
}

// Process forwards ev into the resolved sub-pipeline. If no target could
// be resolved, ev is dropped — Bind's error should already have surfaced
// this to the caller via Pipeline.BindErr.
func (f *Link) Process(ctx *gate.Context, ev event.Event) {
	f.ensureSub()
	if f.sub == nil {
		return
	}

	f.sub.Input()(ctx, ev)
}

func (f *Link) Reset() {
	f.sub = nil
}

// Pipe is link's dynamic variant: the target layout is produced either by
// calling Target with the triggering event, or by looking Key(ev) up in
// TargetMap. InitArgs is threaded to the sub-pipeline's Start.
type Pipe struct {
	filter.Base

	Target    func(ev event.Event) *pipeline.Layout
	TargetMap map[string]*pipeline.Layout
	Key       func(ev event.Event) string
	InitArgs  any

	wctx any
	sub  *pipeline.Pipeline
}

// NewPipe returns a Pipe filter. Exactly one of Target or (TargetMap,Key)
// should be populated.
func NewPipe(target func(ev event.Event) *pipeline.Layout, targetMap map[string]*pipeline.Layout, key func(ev event.Event) string, initArgs any) *Pipe {
	return &Pipe{Target: target, TargetMap: targetMap, Key: key, InitArgs: initArgs}
}

func (f *Pipe) SetContext(ctx any) { f.wctx = ctx }

func (f *Pipe) Clone() filter.Filter {
	return NewPipe(f.Target, f.TargetMap, f.Key, f.InitArgs)
}

func (f *Pipe) resolve(ev event.Event) *pipeline.Layout {
	if f.Target != nil {
		return f.Target(ev)
	}

	if f.Key != nil && f.TargetMap != nil {
		return f.TargetMap[f.Key(ev)]
	}

	return nil
}

// Process resolves the target on the first event (if not already spawned)
// and forwards every event into it thereafter.
func (f *Pipe) Process(ctx *gate.Context, ev event.Event) {
	if f.sub == nil {
		target := f.resolve(ev)
		if target == nil {
			return
		}

		f.sub = pipeline.Make(target, f.wctx)
		f.sub.Chain(f.Output)
		_ = f.sub.Start(f.InitArgs)
	}

	f.sub.Input()(ctx, ev)
}

func (f *Pipe) Reset() {
	f.sub = nil
}

// PipeNext forwards every event into the next module's entrance pipeline
// in the owning Layout's Chain list. With no chain entry, events pass
// through untouched.
type PipeNext struct {
	filter.Base

	wctx   any
	layout *pipeline.Layout
	sub    *pipeline.Pipeline
}

// NewPipeNext returns a pipeNext filter.
func NewPipeNext() *PipeNext { return &PipeNext{} }

func (f *PipeNext) SetContext(ctx any) { f.wctx = ctx }

func (f *PipeNext) SetLayout(layout any) {
	if l, ok := layout.(*pipeline.Layout); ok {
		f.layout = l
	}
}

func (f *PipeNext) Clone() filter.Filter { return NewPipeNext() }

func (f *PipeNext) ensureSub() {
	if f.sub != nil || f.layout == nil || len(f.layout.Chain) == 0 {
		return
	}

	f.sub = pipeline.Make(f.layout.Chain[0], f.wctx)
	f.sub.Chain(f.Output)
}

func (f *PipeNext) Process(ctx *gate.Context, ev event.Event) {
	f.ensureSub()
	if f.sub == nil {
		f.Output(ctx, ev)

		return
	}

	f.sub.Input()(ctx, ev)
}

func (f *PipeNext) Reset() {
	f.sub = nil
}

var (
	_ filter.Filter       = (*Link)(nil)
	_ filter.ContextSetter = (*Link)(nil)
	_ filter.LayoutSetter  = (*Link)(nil)
	_ filter.Filter       = (*Pipe)(nil)
	_ filter.ContextSetter = (*Pipe)(nil)
	_ filter.Filter       = (*PipeNext)(nil)
	_ filter.ContextSetter = (*PipeNext)(nil)
	_ filter.LayoutSetter  = (*PipeNext)(nil)
)
