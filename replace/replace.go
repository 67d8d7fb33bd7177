// Package replace implements the Replace filter family (spec section
// 4.13): replaceStreamStart, replaceMessage, replaceMessageBody,
// replaceMessageEnd, replaceStreamEnd, and replace — the mirror of the
// handle family (package handle), except the callback's return value
// replaces the triggering event(s) instead of merely being observed.
//
// Grounded on handle for the Trigger enum, Aggregate shape, and the
// suspend-until-resume continuation (itself grounded on wait's
// buffer-until-signalled idiom); replace keeps its own copy of the
// per-trigger aggregation logic rather than importing handle's unexported
// internals; mirroring the shape, not reusing the code, is the point
// (each joint filter package in this module is self-contained the same
// way fork/branch/link each are).
package replace

import (
	"sync"

	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/errors"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/handle"
	"github.com/relaymesh/pipecore/logger"
	"github.com/relaymesh/pipecore/worker"
)

// Trigger is handle.Trigger: the two families share one taxonomy of
// observation points.
type Trigger = handle.Trigger

const (
	OnStreamStart = handle.OnStreamStart
	OnMessage     = handle.OnMessage
	OnMessageBody = handle.OnMessageBody
	OnMessageEnd  = handle.OnMessageEnd
	OnStreamEnd   = handle.OnStreamEnd
	OnEvery       = handle.OnEvery
)

// Aggregate is handle.Aggregate.
type Aggregate = handle.Aggregate

// Callback computes what replaces the triggering aggregate. Calling
// resume(result, nil) synchronously, before returning, continues
// immediately; stashing resume for later (any goroutine) suspends the
// stream until then, same as handle.Callback. result may be nil (spec.md
// §4.13: "undefined to drop"), an event.Event, a *buffer.Message, a
// []event.Event, or a []any mixing the two — anything else resolves to
// errors.ErrReplaceInvalidType (spec.md: "returning a non-event, non-null
// value is a fatal error"). A non-nil err instead rejects the stream with
// a Runtime StreamEnd.
type Callback func(agg Aggregate, resume func(result any, err error))

type queued struct {
	ctx *gate.Context
	ev  event.Event
}

// Filter is the Replace joint filter.
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

// New returns a Replace filter for trigger.
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

	return logger.ForFilter(logger.ForPipeline(wc.Worker.Log, f.Name), "replace", 0)
}

// Process either queues ev behind a pending resume, or fires it straight
// away.
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

func (f *Filter) fire(ctx *gate.Context, ev event.Event) {
	if f.Trigger == OnMessage || f.Trigger == OnMessageBody {
		f.fireMessage(ctx, ev)

		return
	}

	agg, fires := f.aggregateForSingle(ev)
	if !fires {
		f.deliver(ctx, ev)

		return
	}

	f.arm(ctx, agg)
}

// fireMessage absorbs every event of the in-flight message (MessageStart,
// Data, the closing MessageEnd) without forwarding any of them — unlike
// handle's OnMessage, which only holds the closing event, replace holds
// the whole message, since the callback's return value replaces it in
// full. A StreamEnd arriving mid-message discards whatever was buffered
// and passes straight through; the stream is ending regardless.
func (f *Filter) fireMessage(ctx *gate.Context, ev event.Event) {
	if _, ok := ev.(*event.StreamEnd); ok {
		f.mu.Lock()
		f.msgBuf = buffer.NewMessageBuffer()
		f.body = nil
		f.mu.Unlock()
		f.deliver(ctx, ev)

		return
	}

	var (
		agg      Aggregate
		complete bool
	)

	if f.Trigger == OnMessage {
		msg := f.msgBuf.Push(ev)
		complete = msg != nil
		if complete {
			agg = Aggregate{Message: msg}
		}
	} else {
		agg, complete = f.accumulateBody(ev)
	}

	if !complete {
		return
	}

	f.arm(ctx, agg)
}

// arm marks a resume as pending and invokes the callback.
func (f *Filter) arm(ctx *gate.Context, agg Aggregate) {
	f.mu.Lock()
	f.pending = true
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.Callback(agg, func(result any, err error) { f.resume(ctx, gen, result, err) })
}

// aggregateForSingle handles the four triggers that replace a single
// event rather than a whole buffered message.
func (f *Filter) aggregateForSingle(ev event.Event) (Aggregate, bool) {
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

	default:
		return Aggregate{}, false
	}
}

// accumulateBody mirrors handle's OnMessageBody aggregation: buffer body
// bytes up to SizeLimit, warning once per message on overflow.
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
				log.Warn("replaceMessageBody buffer overflow", "sizeLimit", f.SizeLimit)
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

// resume is the continuation handed to Callback.
func (f *Filter) resume(ctx *gate.Context, gen int, result any, err error) {
	f.mu.Lock()
	stale := f.gen != gen || f.done
	f.mu.Unlock()

	if stale {
		return
	}

	if err != nil {
		f.reject(ctx, errors.ErrRuntime.Clone())

		return
	}

	events, verr := normalizeReplacement(result)
	if verr != nil {
		f.reject(ctx, errors.ErrReplaceInvalidType.Clone())

		return
	}

	leave := ctx.Enter()
	for _, out := range events {
		f.deliver(ctx, out)
	}
	f.flushQueue()
	leave()
}

// normalizeReplacement renders the dynamic "one event, a Message, an
// array of either, or undefined" return contract spec.md §4.13 describes
// into a concrete []event.Event, the way a scripting-engine return value
// would be coerced at the filter boundary.
func normalizeReplacement(result any) ([]event.Event, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case event.Event:
		return []event.Event{v}, nil
	case *buffer.Message:
		return v.Events(), nil
	case []event.Event:
		return v, nil
	case []any:
		out := make([]event.Event, 0, len(v))

		for _, item := range v {
			switch e := item.(type) {
			case event.Event:
				out = append(out, e)
			case *buffer.Message:
				out = append(out, e.Events()...)
			default:
				return nil, errors.ErrReplaceInvalidType
			}
		}

		return out, nil
	default:
		return nil, errors.ErrReplaceInvalidType
	}
}

func (f *Filter) reject(ctx *gate.Context, cause *errors.Error) {
	f.mu.Lock()
	f.done = true
	f.pending = false
	f.queue = nil
	f.mu.Unlock()

	leave := ctx.Enter()
	f.Output(ctx, event.NewRuntimeStreamEnd(cause))
	leave()
}

// flushQueue re-runs fire over every event queued while a resume was
// pending, in arrival order, stopping if one of them re-arms a new
// pending resume.
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
