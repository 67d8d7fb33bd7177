// Package hub implements the hub/swap joint filter family (spec section
// 4.7): a many-to-many broadcast node with at most two privileged direct
// parties and an unlimited extra party set, plus swap, the filter that
// wires a pipeline's reply stream into one.
//
// Event delivery is synchronous and cooperative — every party's Input is
// called directly from Broadcast, on the broadcasting party's own call
// stack, exactly like every other joint filter in this module (spec
// section 4.4's "branches run cooperatively on the same worker; no
// parallelism" generalizes to every joint filter, not just fork).
package hub

import (
	"sync"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
)

// Party is one member of a Hub's broadcast set.
type Party struct {
	ID    string
	Input func(ctx *gate.Context, ev event.Event)
}

// change is a deferred party-set mutation recorded while a broadcast is
// in progress (spec.md §4.7: "nested join/exit are deferred to a change
// list and applied when the broadcast unwinds").
type change struct {
	join  bool
	party *Party
}

// Hub is a many-to-many broadcast node. The first two parties to Join
// become "privileged" (occupying the two direct slots); every subsequent
// join lands in the unlimited extra set. Both sets are broadcast to
// identically — the privileged/extra distinction exists for callers that
// want to address "the other direct party" specifically (a typical
// proxy's client/server pair), not for delivery semantics.
type Hub struct {
	mu           sync.Mutex
	privileged   [2]*Party
	extra        []*Party
	broadcasting bool
	pending      []change
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{}
}

// Join adds party to the set, deferring the mutation if a broadcast is
// currently unwinding through this Hub.
func (h *Hub) Join(party *Party) {
	h.mu.Lock()
	if h.broadcasting {
		h.pending = append(h.pending, change{join: true, party: party})
		h.mu.Unlock()

		return
	}

	h.join(party)
	h.mu.Unlock()
}

// join applies the mutation directly; caller holds h.mu.
func (h *Hub) join(party *Party) {
	for i := range h.privileged {
		if h.privileged[i] == nil {
			h.privileged[i] = party

			return
		}
	}

	h.extra = append(h.extra, party)
}

// Exit removes party from the set, deferring the mutation if a broadcast
// is currently unwinding through this Hub.
func (h *Hub) Exit(party *Party) {
	h.mu.Lock()
	if h.broadcasting {
		h.pending = append(h.pending, change{join: false, party: party})
		h.mu.Unlock()

		return
	}

	h.exit(party)
	h.mu.Unlock()
}

func (h *Hub) exit(party *Party) {
	for i := range h.privileged {
		if h.privileged[i] == party {
			h.privileged[i] = nil

			return
		}
	}

	for i, p := range h.extra {
		if p == party {
			h.extra = append(h.extra[:i], h.extra[i+1:]...)

			return
		}
	}
}

// Broadcast delivers ev to every party except from, synchronously. Any
// Join/Exit called by a receiving party's Input during this call is
// deferred and applied once Broadcast has finished visiting every party.
func (h *Hub) Broadcast(ctx *gate.Context, ev event.Event, from *Party) {
	h.mu.Lock()
	h.broadcasting = true
	targets := make([]*Party, 0, len(h.extra)+2)
	for _, p := range h.privileged {
		if p != nil && p != from {
			targets = append(targets, p)
		}
	}
	for _, p := range h.extra {
		if p != from {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	for _, p := range targets {
		p.Input(ctx, ev)
	}

	h.mu.Lock()
	h.broadcasting = false
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, c := range pending {
		if c.join {
			h.Join(c.party)
		} else {
			h.Exit(c.party)
		}
	}
}
