// Package gate implements the reentrancy and backpressure primitives a
// pipeline needs to deliver events safely: Context (the InputContext of
// spec section 3.5/5) and Tap (section 3.6). Neither has a teacher
// equivalent — ezex-io-gopkg has no event-stream runtime — so the
// concurrency idiom is grounded on the teacher's mutex-guarded struct
// style (account.Account, timer.Token) applied to a goroutine-tree-scoped
// reentrancy token instead of a process-global one.
package gate

import (
	"sync"

	"github.com/relaymesh/pipecore/event"
)

// Pending is one event queued by a filter that chose to defer delivery
// instead of recursing, to be flushed when the outermost Context drains.
type Pending struct {
	Input func(ctx *Context, ev event.Event)
	Event event.Event
}

// Context is the per-entry reentrancy frame described in spec section 3.5.
// Enter installs the outermost frame for a call tree; nested calls reuse it
// via Enter's depth counter instead of allocating a new one, matching the
// original's thread-local single mutable cell.
type Context struct {
	mu      sync.Mutex
	depth   int
	flush   []Pending
	onLeave []func()
}

// NewContext returns a fresh, unentered Context.
func NewContext() *Context {
	return &Context{}
}

// Enter marks one nested entry into ctx, returning a Leave function the
// caller must defer. The outermost Enter/Leave pair drains the flush queue.
func (c *Context) Enter() func() {
	c.mu.Lock()
	c.depth++
	outermost := c.depth == 1
	c.mu.Unlock()

	return func() {
		if outermost {
			c.drain()
		}

		c.mu.Lock()
		c.depth--
		c.mu.Unlock()
	}
}

// Depth reports the current reentrancy nesting depth (0 when not entered).
func (c *Context) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.depth
}

// Defer queues an event for delivery once the outermost frame drains,
// instead of recursing further into the filter graph.
func (c *Context) Defer(input func(ctx *Context, ev event.Event), ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flush = append(c.flush, Pending{Input: input, Event: ev})
}

// OnLeave schedules fn to run once the outermost frame finishes draining —
// Pipeline.AutoRelease uses this to defer arena release past any reentrant
// flush so iterators over live state can't be invalidated mid-drain.
func (c *Context) OnLeave(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onLeave = append(c.onLeave, fn)
}

// drain flushes queued events (which may themselves queue more) and then
// runs onLeave callbacks, repeating until both are empty.
func (c *Context) drain() {
	for {
		c.mu.Lock()
		pending := c.flush
		c.flush = nil
		c.mu.Unlock()

		if len(pending) == 0 {
			break
		}

		for _, p := range pending {
			p.Input(c, p.Event)
		}
	}

	c.mu.Lock()
	onLeave := c.onLeave
	c.onLeave = nil
	c.mu.Unlock()

	for _, fn := range onLeave {
		fn()
	}

	if len(onLeave) > 0 {
		c.drain()
	}
}
