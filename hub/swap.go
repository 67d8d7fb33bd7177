package hub

import (
	"github.com/google/uuid"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
)

// Swap wires its owning pipeline's reply stream into a Hub on first event:
// every subsequent event the filter receives is broadcast to the hub's
// other parties. Of the events it receives, only the terminal StreamEnd is
// forwarded to its own successor; events other parties broadcast are
// emitted on its output.
type Swap struct {
	filter.Base

	HubRef *Hub
	HubFn  func(wctx any) *Hub

	wctx   any
	hub    *Hub
	party  *Party
	joined bool
}

// ByHub returns a swap filter wired to a fixed Hub.
func ByHub(h *Hub) *Swap { return &Swap{HubRef: h} }

// ByHubFunc returns a swap filter whose Hub is resolved lazily, once,
// from the owning pipeline's worker context.
func ByHubFunc(fn func(wctx any) *Hub) *Swap { return &Swap{HubFn: fn} }

func (f *Swap) SetContext(ctx any) { f.wctx = ctx }

func (f *Swap) Clone() filter.Filter { return &Swap{HubRef: f.HubRef, HubFn: f.HubFn} }

func (f *Swap) ensureJoined(ctx *gate.Context) {
	if f.joined {
		return
	}

	f.hub = f.HubRef
	if f.hub == nil && f.HubFn != nil {
		f.hub = f.HubFn(f.wctx)
	}

	if f.hub == nil {
		return
	}

	f.party = &Party{
		ID:    uuid.NewString(),
		Input: func(ctx *gate.Context, ev event.Event) { f.Output(ctx, ev) },
	}
	f.hub.Join(f.party)
	f.joined = true
}

// Process joins the hub on first call, then broadcasts every event
// (including the first) to the hub's other parties. StreamEnd also exits
// the hub and is the one event forwarded to the filter's own successor.
func (f *Swap) Process(ctx *gate.Context, ev event.Event) {
	f.ensureJoined(ctx)
	if f.hub == nil {
		return
	}

	f.hub.Broadcast(ctx, ev, f.party)

	if _, ok := ev.(*event.StreamEnd); ok {
		f.hub.Exit(f.party)
		f.joined = false
		f.Output(ctx, ev)
	}
}

func (f *Swap) Reset() {
	if f.joined && f.hub != nil {
		f.hub.Exit(f.party)
	}

	f.joined = false
	f.hub = nil
	f.party = nil
}

var (
	_ filter.Filter        = (*Swap)(nil)
	_ filter.ContextSetter = (*Swap)(nil)
)
