// Package designer implements PipelineDesigner (spec section 6): the
// builder surface scripts use to assemble an immutable pipeline.Layout one
// filter at a time. OnStart/OnEnd configure layout-level hooks (duplicate
// registration is a config error, same as the spec's "duplicate is a
// config error" for both); Use and the per-family convenience methods
// append filters in order; Named and Sub render the DSL's `to(name)` /
// `to(fn)` sub-layout binding — in Go, joint filters already take their
// sub-layout as a constructor argument, so binding means building (or
// looking up) the *pipeline.Layout before constructing the filter, rather
// than retroactively attaching it to "the most recently appended filter"
// as the original script-facing API does.
//
// No teacher equivalent (ezex-io-gopkg has no builder DSL); the
// accumulate-errors-until-Build shape is grounded on the teacher's
// functional-options idiom generalized from "one call configures one
// struct" to "one call appends one step", with config errors collected
// rather than returned eagerly so a long chain of calls reads the same
// whether or not an earlier step failed.
package designer

import (
	"fmt"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/pipeline"
)

// Designer accumulates a layout's filter chain and hooks until Build.
type Designer struct {
	name string

	filters []filter.Filter
	onStart *pipeline.OnStart
	onEnd   func(value any)

	named     map[string]*pipeline.Layout
	anonymous []*pipeline.Layout

	errs []error
}

// New returns an empty Designer for a layout named name (used in Dump and
// worker logging scope; pass "" for an anonymous layout).
func New(name string) *Designer {
	return &Designer{name: name}
}

// OnStart registers a literal list of events to input once, when the
// pipeline starts. Must precede every filter append; spec.md §6: "must
// precede filters; duplicate is a config error".
func (d *Designer) OnStart(events ...event.Event) *Designer {
	return d.setOnStart(&pipeline.OnStart{InitialEvents: events})
}

// OnStartFunc registers a function producing initial events from
// whatever arguments Start is called with. Same ordering constraint as
// OnStart.
func (d *Designer) OnStartFunc(fn func(args any) []event.Event) *Designer {
	return d.setOnStart(&pipeline.OnStart{InitialFunc: fn})
}

func (d *Designer) setOnStart(onStart *pipeline.OnStart) *Designer {
	if d.onStart != nil {
		return d.fail(fmt.Errorf("designer %q: onStart already set", d.name))
	}

	if len(d.filters) > 0 {
		return d.fail(fmt.Errorf("designer %q: onStart must precede filters", d.name))
	}

	d.onStart = onStart

	return d
}

// OnEnd registers the layout's end hook. Calling it twice is a config
// error.
func (d *Designer) OnEnd(fn func(value any)) *Designer {
	if d.onEnd != nil {
		return d.fail(fmt.Errorf("designer %q: onEnd already set", d.name))
	}

	d.onEnd = fn

	return d
}

// Use appends a fully-configured filter prototype. Every <filterName>(...)
// convenience method in this package is sugar over Use.
func (d *Designer) Use(f filter.Filter) *Designer {
	d.filters = append(d.filters, f)

	return d
}

// Named registers a sub-layout other filters can reference symbolically
// by name (link.ByName, chiefly) — the DSL's `to(name)` form, except the
// layout is supplied already-built rather than assembled retroactively.
func (d *Designer) Named(name string, layout *pipeline.Layout) *Designer {
	if d.named == nil {
		d.named = make(map[string]*pipeline.Layout)
	}

	if _, exists := d.named[name]; exists {
		return d.fail(fmt.Errorf("designer %q: named sub-layout %q already registered", d.name, name))
	}

	d.named[name] = layout

	return d
}

// Sub builds an anonymous sub-layout inline — the DSL's `to(fn)` — by
// running build against a fresh child Designer and freezing it
// immediately, so the result can be passed straight into a joint filter's
// constructor (fork.New, loop.New, replay.New, mux.NewMux, ...).
func (d *Designer) Sub(build func(*Designer)) *pipeline.Layout {
	child := New("")
	build(child)

	layout, err := child.Build()
	if err != nil {
		d.fail(err)

		return nil
	}

	d.anonymous = append(d.anonymous, layout)

	return layout
}

func (d *Designer) fail(err error) *Designer {
	d.errs = append(d.errs, err)

	return d
}

// Build freezes the accumulated filters and hooks into an immutable
// pipeline.Layout, or returns the first config error encountered.
func (d *Designer) Build() (*pipeline.Layout, error) {
	if len(d.errs) > 0 {
		return nil, d.errs[0]
	}

	var opts []pipeline.LayoutOption
	if d.name != "" {
		opts = append(opts, pipeline.WithName(d.name))
	}

	if d.onStart != nil {
		opts = append(opts, pipeline.WithOnStart(d.onStart))
	}

	if d.onEnd != nil {
		opts = append(opts, pipeline.WithOnEnd(d.onEnd))
	}

	for name, sub := range d.named {
		opts = append(opts, pipeline.WithNamed(name, sub))
	}

	for _, sub := range d.anonymous {
		opts = append(opts, pipeline.WithAnonymous(sub))
	}

	return pipeline.NewLayout(d.filters, opts...), nil
}
