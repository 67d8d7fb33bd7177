// Package wait implements the wait joint filter (spec section 4.10): hold
// incoming events until a condition becomes true (or a timeout elapses),
// then flush them in arrival order and become transparent.
//
// The original's ContextGroup::Waiter registry — a per-module-instance
// pub/sub other filters notify when shared state changes — is modeled
// here as Group, a small observer list any number of Filters can share.
package wait

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/timer"
)

// Group is a shared notification point: whoever mutates the state a
// Condition closes over calls Notify to prompt every waiting Filter
// subscribed to re-evaluate.
type Group struct {
	mu   sync.Mutex
	subs []func()
}

// NewGroup returns an empty Group.
func NewGroup() *Group { return &Group{} }

// Notify calls every subscriber. Safe to call with no subscribers.
func (g *Group) Notify() {
	g.mu.Lock()
	subs := append([]func(){}, g.subs...)
	g.mu.Unlock()

	for _, s := range subs {
		s()
	}
}

func (g *Group) subscribe(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.subs = append(g.subs, fn)
}

// Filter is the wait joint filter. Condition is re-evaluated whenever
// Group fires (if Group is non-nil) and once per incoming event. Timeout
// of zero disables the deadline per spec section 9's open-question
// resolution ("0 means disabled, not immediate").
type Filter struct {
	filter.Base

	Condition func() bool
	Timeout   time.Duration
	Clock     timer.Clock
	Group     *Group

	mu        sync.Mutex
	open      bool
	buffered  []event.Event
	timeoutTk *timer.Token
	ctx       context.Context
}

// New returns a wait filter. ctx bounds the lifetime of its timeout timer.
func New(ctx context.Context, condition func() bool, timeout time.Duration, clock timer.Clock, group *Group) *Filter {
	if clock == nil {
		clock = timer.SystemClock{}
	}

	return &Filter{Condition: condition, Timeout: timeout, Clock: clock, Group: group, ctx: ctx}
}

func (f *Filter) Clone() filter.Filter {
	return New(f.ctx, f.Condition, f.Timeout, f.Clock, f.Group)
}

// Process buffers ev until Condition() is true, then flushes everything
// buffered (including ev) in arrival order and becomes transparent for
// all subsequent events.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	f.mu.Lock()
	if f.open {
		f.mu.Unlock()
		f.Output(ctx, ev)

		return
	}

	if len(f.buffered) == 0 {
		f.arm(ctx)
	}

	f.buffered = append(f.buffered, ev)
	ready := f.Condition == nil || f.Condition()
	f.mu.Unlock()

	if ready {
		f.flush(ctx)
	}
}

// arm subscribes to Group (re-check on every notification) and schedules
// the unconditional timeout flush, while already holding f.mu.
func (f *Filter) arm(ctx *gate.Context) {
	if f.Group != nil {
		f.Group.subscribe(func() {
			f.mu.Lock()
			ready := !f.open && (f.Condition == nil || f.Condition())
			f.mu.Unlock()

			if ready {
				f.flush(ctx)
			}
		})
	}

	if f.Timeout > 0 {
		f.timeoutTk = timer.After(f.ctx, f.Timeout, f.Clock).Do(func(context.Context) {
			f.flush(ctx)
		})
	}
}

func (f *Filter) flush(ctx *gate.Context) {
	f.mu.Lock()
	if f.open {
		f.mu.Unlock()

		return
	}

	f.open = true
	pending := f.buffered
	f.buffered = nil
	if f.timeoutTk != nil {
		f.timeoutTk.Cancel()
	}
	f.mu.Unlock()

	for _, ev := range pending {
		f.Output(ctx, ev)
	}
}

func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.open = false
	f.buffered = nil

	if f.timeoutTk != nil {
		f.timeoutTk.Cancel()
		f.timeoutTk = nil
	}
}
