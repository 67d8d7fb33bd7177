// Package filter defines the Filter contract every pipeline node
// implements (spec section 4.1) plus Base, a small embeddable struct
// carrying the bookkeeping common to every concrete filter — grounded on
// the teacher's functional-options-plus-small-struct-embedding idiom used
// throughout account.Bucket, timer.Token, and retry.Config: common state
// lives in one struct, concrete types embed it and add their own fields.
package filter

import (
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
)

// Input delivers one event into a filter (or a pipeline's first filter).
type Input func(ctx *gate.Context, ev event.Event)

// Filter is the polymorphic node every pipeline stage implements.
type Filter interface {
	// Bind resolves symbolic sub-pipeline references to concrete layouts.
	// Called once after the owning pipeline's filter chain is assembled.
	Bind() error

	// Clone returns a deep copy of the filter's prototype state (not its
	// per-pipeline runtime state) for use by a new pipeline instance.
	Clone() Filter

	// Chain stores next as the successor input.
	Chain(next Input)

	// Reset clears per-run state, releases sub-pipelines, cancels timers.
	Reset()

	// Process consumes one event, emitting zero or more via the chained
	// successor.
	Process(ctx *gate.Context, ev event.Event)

	// Shutdown idempotently releases any held resources.
	Shutdown()
}

// Base embeds the bookkeeping shared by every concrete filter: a name for
// logging/introspection and the chained successor input. Concrete filters
// embed Base and implement Process (and Clone/Reset where they carry
// additional state).
type Base struct {
	Name   string
	output Input
}

// Chain implements Filter.Chain.
func (b *Base) Chain(next Input) {
	b.output = next
}

// Output delivers ev to the chained successor. A filter with no successor
// (the last in its pipeline) silently drops the event — the pipeline's
// chainOut is what the last filter is actually chained to (see
// pipeline.Make), so in practice Output always has a target once the
// pipeline is fully assembled.
func (b *Base) Output(ctx *gate.Context, ev event.Event) {
	if b.output != nil {
		b.output(ctx, ev)
	}
}

// ContextSetter is implemented by filters that need their owning
// pipeline's opaque worker Context (joint filters spawning sub-pipelines,
// mainly). pipeline.Make calls SetContext right after cloning, before any
// Bind/Process call.
type ContextSetter interface {
	SetContext(ctx any)
}

// LayoutSetter is implemented by filters that resolve symbolic references
// against their own owning Layout (link's by-name form, chiefly).
// pipeline.Make calls SetLayout right after cloning, before Bind.
type LayoutSetter interface {
	SetLayout(layout any)
}

// Bind is a no-op default; filters with symbolic sub-layout references
// override it.
func (b *Base) Bind() error { return nil }

// Reset is a no-op default; stateful filters override it.
func (b *Base) Reset() {}

// Shutdown is a no-op default; filters holding resources override it.
func (b *Base) Shutdown() {}
