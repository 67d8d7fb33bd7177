// Package handle implements the Handle filter family (spec section 4.12):
// handleStreamStart, handleMessage, handleMessageBody, handleMessageEnd,
// handleStreamEnd, and handle, as one Trigger-parameterized Filter that
// invokes a user Callback and otherwise passes every event through
// unchanged.
//
// No teacher equivalent (ezex-io-gopkg has no event-stream engine); the
// buffer-until-settled shape is grounded on wait's "hold events until an
// external signal arrives" idiom (spec section 4.10), generalized from a
// polled Condition/Group.Notify pair to a callback-supplied resume
// continuation — the REDESIGN FLAGS note on Promise/async bridging: "the
// filter arms a continuation ... the runtime invokes the continuation at
// settle time, under a fresh InputContext", rendered here as a plain Go
// callback instead of adopting a scripting-engine Promise type.
package handle

import (
	"sync"

	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/errors"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/logger"
	"github.com/relaymesh/pipecore/worker"
)

// Trigger selects which point in the stream a Filter observes.
type Trigger int

const (
	// OnStreamStart fires once, on the first event of the stream.
	OnStreamStart Trigger = iota
	// OnMessage fires once per complete MessageStart..MessageEnd message.
	OnMessage
	// OnMessageBody fires once per complete message, with the aggregate
	// body bytes bounded by Filter.SizeLimit.
	OnMessageBody
	// OnMessageEnd fires on every MessageEnd event.
	OnMessageEnd
	// OnStreamEnd fires on the terminal StreamEnd event.
	OnStreamEnd
	// OnEvery fires on every event.
	OnEvery
)

// Aggregate is what a Callback observes. Exactly the field(s) matching the
// owning Filter's Trigger are populated.
type Aggregate struct {
	// Event is the triggering event itself: OnStreamStart, OnMessageEnd,
	// OnStreamEnd, OnEvery.
	Event event.Event

	// Message is the complete assembled message: OnMessage.
	Message *buffer.Message

	// Body is the message body, concatenated up to SizeLimit: OnMessageBody.
	Body *event.Data

	// Overflowed reports whether Body was truncated against SizeLimit.
	Overflowed bool
}

// Callback observes one Aggregate. Calling resume(nil) synchronously,
// before returning, continues delivery immediately — an identity callback
// that always does this makes the filter observationally equivalent to a
// no-op (spec.md §8). Stashing resume and calling it later, from any
// goroutine, suspends delivery of the triggering event and everything
// behind it until then. A non-nil err passed to resume rejects the stream:
// the filter emits a Runtime StreamEnd instead of continuing.
type Callback func(agg Aggregate, resume func(err error))

type queued struct {
	ctx *gate.Context
	ev  event.Event
}

// Filter is the Handle joint filter.
type Filter struct {
	filter.Base

	Trigger  Trigger
	Callback Callback

	// SizeLimit bounds the OnMessageBody aggregate; 0 means unlimited.
	SizeLimit int

	wctx any

	mu         sync.Mutex
	started    bool
	msgBuf     *buffer.MessageBuffer
	body       *event.Data
	bodySize   int
	overflowed bool
	warned     bool
	pending    bool
	gen        int
	queue      []queued
	done       bool
}

// New returns a Handle filter for trigger.
func New(trigger Trigger, callback Callback) *Filter {
	return &Filter{Trigger: trigger, Callback: callback, msgBuf: buffer.NewMessageBuffer()}
}

func (f *Filter) SetContext(ctx any) { f.wctx = ctx }

func (f *Filter) Clone() filter.Filter {
	return &Filter{Trigger: f.Trigger, Callback: f.Callback, SizeLimit: f.SizeLimit, msgBuf: buffer.NewMessageBuffer()}
}

func (f *Filter) log() logger.Logger {
	wc, ok := f.wctx.(*worker.Context)
	if !ok || wc.Worker == nil || wc.Worker.Log == nil {
		return nil
	}

	return logger.ForFilter(logger.ForPipeline(wc.Worker.Log, f.Name), "handle", 0)
}

// Process fires the callback when ev matches f.Trigger, then — once any
// pending resume settles — delivers ev and whatever arrived meanwhile.
func (f *Filter) Process(ctx *gate.Context, ev event.Event) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()

		return
	}

	if f.pending {
		f.queue = append(f.queue, queued{ctx, ev})
		f.mu.Unlock()

		return
	}
	f.mu.Unlock()

	f.fire(ctx, ev)
}

// fire decides whether ev triggers the callback, and if so suspends
// delivery until resume is called.
func (f *Filter) fire(ctx *gate.Context, ev event.Event) {
	agg, fires := f.aggregateFor(ev)
	if !fires {
		f.deliver(ctx, ev)

		return
	}

	f.mu.Lock()
	f.pending = true
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.Callback(agg, func(err error) { f.resume(ctx, ev, gen, err) })
}

// aggregateFor reports whether ev triggers f.Trigger's callback and, if
// so, the Aggregate to pass it. OnMessage/OnMessageBody only fire once
// MessageEnd completes the buffered message; every other trigger is
// evaluated against ev directly.
func (f *Filter) aggregateFor(ev event.Event) (Aggregate, bool) {
	switch f.Trigger {
	case OnStreamStart:
		f.mu.Lock()
		already := f.started
		f.started = true
		f.mu.Unlock()

		return Aggregate{Event: ev}, !already

	case OnMessageEnd:
		_, ok := ev.(*event.MessageEnd)

		return Aggregate{Event: ev}, ok

	case OnStreamEnd:
		_, ok := ev.(*event.StreamEnd)

		return Aggregate{Event: ev}, ok

	case OnEvery:
		return Aggregate{Event: ev}, true

	case OnMessage:
		msg := f.msgBuf.Push(ev)
		if msg == nil {
			return Aggregate{}, false
		}

		return Aggregate{Message: msg}, true

	case OnMessageBody:
		return f.accumulateBody(ev)

	default:
		return Aggregate{}, false
	}
}

// accumulateBody feeds ev into the per-message body buffer, truncating at
// SizeLimit and logging once per message on overflow (spec.md: "message
// body bounded by a sizeLimit with overflow accounting and a warning
// record"). Fires only once the message completes.
func (f *Filter) accumulateBody(ev event.Event) (Aggregate, bool) {
	switch e := ev.(type) {
	case *event.MessageStart:
		f.mu.Lock()
		f.body = event.NewData()
		f.bodySize = 0
		f.overflowed = false
		f.warned = false
		f.mu.Unlock()

		return Aggregate{}, false

	case *event.Data:
		// Reads e.Bytes() rather than e.Slice(), which would mutate the
		// live Data event in place — this buffer is a private copy for
		// the callback's eyes only, and ev still has to reach deliver
		// unchanged (handle never alters what flows downstream).
		raw := e.Bytes()

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.body == nil {
			f.body = event.NewData()
		}

		n := len(raw)
		if f.SizeLimit > 0 {
			room := f.SizeLimit - f.bodySize
			if room < 0 {
				room = 0
			}
			if n > room {
				f.overflowed = true
				n = room
			}
		}

		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, raw[:n])
			f.body.Push(chunk)
			f.bodySize += n
		}

		if f.overflowed && !f.warned {
			f.warned = true
			if log := f.log(); log != nil {
				log.Warn("handleMessageBody buffer overflow", "sizeLimit", f.SizeLimit)
			}
		}

		return Aggregate{}, false

	case *event.MessageEnd:
		f.mu.Lock()
		body := f.body
		overflowed := f.overflowed
		if body == nil {
			body = event.NewData()
		}
		f.body = nil
		f.mu.Unlock()

		return Aggregate{Body: body, Overflowed: overflowed}, true

	default:
		return Aggregate{}, false
	}
}

// resume is the continuation handed to Callback. gen guards against a
// stale resume firing after Reset started a new generation.
func (f *Filter) resume(ctx *gate.Context, ev event.Event, gen int, err error) {
	f.mu.Lock()
	if f.gen != gen || f.done {
		f.mu.Unlock()

		return
	}

	if err != nil {
		// Rejected: whatever was queued behind ev is dropped with the
		// stream — nothing downstream of a Runtime StreamEnd is valid.
		f.done = true
		f.pending = false
		f.queue = nil
		f.mu.Unlock()

		leave := ctx.Enter()
		f.Output(ctx, event.NewRuntimeStreamEnd(errors.ErrRuntime.Clone()))
		leave()

		return
	}
	f.mu.Unlock()

	leave := ctx.Enter()
	f.deliver(ctx, ev)
	f.flushQueue()
	leave()
}

// flushQueue re-runs fire over every event queued while a resume was
// pending, in arrival order. A queued event may itself trigger the
// callback again (e.g. the next MessageEnd under OnMessageEnd), in which
// case flushQueue stops: fire has re-armed f.pending and the remaining
// queue waits for that resume instead.
func (f *Filter) flushQueue() {
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.pending = false
			f.mu.Unlock()

			return
		}

		next := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.fire(next.ctx, next.ev)

		f.mu.Lock()
		pending := f.pending
		f.mu.Unlock()

		if pending {
			return
		}
	}
}

func (f *Filter) deliver(ctx *gate.Context, ev event.Event) {
	f.Output(ctx, ev)
}

func (f *Filter) Reset() {
	f.mu.Lock()
	f.started = false
	f.body = nil
	f.bodySize = 0
	f.overflowed = false
	f.warned = false
	f.pending = false
	f.gen++
	f.queue = nil
	f.done = false
	f.mu.Unlock()

	f.msgBuf = buffer.NewMessageBuffer()
}

var (
	_ filter.Filter        = (*Filter)(nil)
	_ filter.ContextSetter = (*Filter)(nil)
)
