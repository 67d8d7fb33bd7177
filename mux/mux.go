package mux

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/buffer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/logger"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/timer"
	"github.com/relaymesh/pipecore/worker"
)

// SessionSelector maps a logical request to the session key its sub-
// pipeline should be pooled under.
type SessionSelector func(req *event.MessageStart) string

// session is one pooled sub-pipeline shared across every logical request
// mapping to the same key.
type session struct {
	key     string
	trace   string // uuid, carried in every log line scoped to this session
	handle  arena.Handle
	respBuf *buffer.MessageBuffer
	tap     *gate.Tap

	inflight int
	messages int
	backlog  [][]event.Event // request event-sequences waiting for a free slot
	waiters  []*slot         // one per dispatched-or-queued request, FIFO

	idleTk *timer.Token
}

// Mux is the mux joint filter: many logical requests mapped into one
// shared sub-pipeline per Selector(request) key. Sessions are pooled by
// key and spawned lazily on miss.
type Mux struct {
	filter.Base

	Layout      *pipeline.Layout
	Selector    SessionSelector
	MaxQueue    int           // per-session inflight cap; 0 means unbounded
	MaxMessages int           // per-session lifetime request cap; 0 means unbounded
	MaxIdle     time.Duration // idle TTL before a session is dropped; 0 disables

	Clock timer.Clock

	lifeCtx context.Context
	wctx    any
	arena   *arena.Arena[*pipeline.Pipeline]

	mu       sync.Mutex
	sessions map[string]*session
	inbuf    *buffer.MessageBuffer
	queue    []*slot
}

// pipelineArena returns the worker's shared Pipelines arena when wctx
// carries one, else a private arena scoped to this filter instance — used
// under test, where no worker.Context is wired in.
func (f *Mux) pipelineArena() *arena.Arena[*pipeline.Pipeline] {
	if f.arena == nil {
		if a := worker.ArenaFor(f.wctx); a != nil {
			f.arena = a
		} else {
			f.arena = arena.New[*pipeline.Pipeline]()
		}
	}

	return f.arena
}

// sessionPipeline resolves s's sub-pipeline through the arena, or nil if
// its slot was already released.
func (f *Mux) sessionPipeline(s *session) *pipeline.Pipeline {
	p, ok := f.pipelineArena().Get(s.handle)
	if !ok {
		return nil
	}

	return p
}

// NewMux returns a mux filter. ctx bounds the lifetime of session idle timers.
func NewMux(ctx context.Context, layout *pipeline.Layout, selector SessionSelector, clock timer.Clock) *Mux {
	if clock == nil {
		clock = timer.SystemClock{}
	}

	return &Mux{
		Layout:   layout,
		Selector: selector,
		Clock:    clock,
		lifeCtx:  ctx,
		sessions: make(map[string]*session),
		inbuf:    buffer.NewMessageBuffer(),
	}
}

func (f *Mux) SetContext(ctx any) { f.wctx = ctx }

// log returns a logger scoped to this filter, or nil when no worker
// context carrying one is available (e.g. under test).
func (f *Mux) log() logger.Logger {
	wc, ok := f.wctx.(*worker.Context)
	if !ok || wc.Worker == nil || wc.Worker.Log == nil {
		return nil
	}

	return logger.ForFilter(logger.ForPipeline(wc.Worker.Log, f.Layout.Name), "mux", 0)
}

func (f *Mux) Clone() filter.Filter {
	return NewMux(f.lifeCtx, f.Layout, f.Selector, f.Clock)
}

// Process assembles ev into the request currently forming; once complete,
// the request is dispatched to (or queued behind) its session.
func (f *Mux) Process(ctx *gate.Context, ev event.Event) {
	if se, ok := ev.(*event.StreamEnd); ok {
		f.mu.Lock()
		sessions := make([]*session, 0, len(f.sessions))
		for _, s := range f.sessions {
			sessions = append(sessions, s)
		}
		f.sessions = make(map[string]*session)
		f.mu.Unlock()

		for _, s := range sessions {
			pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(s.handle) })
			f.terminateSession(ctx, s, event.Clone(se).(*event.StreamEnd))
		}

		f.Output(ctx, se)

		return
	}

	msg := f.inbuf.Push(ev)
	if msg == nil {
		return
	}

	f.dispatch(ctx, msg)
}

// dispatch records msg's slot in the global FIFO and either sends it to
// its session immediately or queues it in the session's backlog, per
// MaxQueue. Sending happens strictly outside f.mu — sub.Input() can
// synchronously re-enter onSessionEvent on this same goroutine.
func (f *Mux) dispatch(ctx *gate.Context, msg *buffer.Message) {
	key := f.Selector(msg.Start)
	s := &slot{}
	events := msg.Events()

	f.mu.Lock()
	f.queue = append(f.queue, s)
	sess := f.sessionFor(key)
	sess.waiters = append(sess.waiters, s)

	send := f.MaxQueue <= 0 || sess.inflight < f.MaxQueue
	retired := false
	if send {
		sess.inflight++
		sess.messages++
		if f.MaxMessages > 0 && sess.messages >= f.MaxMessages {
			delete(f.sessions, sess.key)
			retired = true
		}
	} else {
		sess.backlog = append(sess.backlog, events)
		if sess.tap != nil {
			sess.tap.Close()
		}
	}
	f.mu.Unlock()

	if log := f.log(); log != nil {
		switch {
		case retired:
			log.Debug("session retired at MaxMessages", "key", key, "trace", sess.trace, "messages", sess.messages)
		case !send:
			log.Debug("request backlogged", "key", key, "trace", sess.trace, "inflight", sess.inflight)
		}
	}

	if send {
		if sub := f.sessionPipeline(sess); sub != nil {
			input := sub.Input()
			for _, e := range events {
				input(ctx, e)
			}
		}
	}
}

// sessionFor returns the pooled session for key, spawning one on miss.
// Caller holds f.mu.
func (f *Mux) sessionFor(key string) *session {
	if s, ok := f.sessions[key]; ok {
		f.armIdle(s)

		return s
	}

	s := &session{key: key, trace: uuid.NewString(), respBuf: buffer.NewMessageBuffer(), tap: gate.NewTap()}
	sub := pipeline.Make(f.Layout, f.wctx)
	s.handle = f.pipelineArena().Insert(sub)
	sub.SetHandle(s.handle)
	sub.Chain(func(ctx *gate.Context, ev event.Event) { f.onSessionEvent(ctx, s, ev) })
	f.sessions[key] = s
	f.armIdle(s)

	if log := f.log(); log != nil {
		log.Debug("session opened", "key", key, "trace", s.trace)
	}

	return s
}

// armIdle (re)schedules the idle-eviction timer for s. Caller holds f.mu.
func (f *Mux) armIdle(s *session) {
	if f.MaxIdle <= 0 {
		return
	}

	if s.idleTk != nil {
		s.idleTk.Cancel()
	}

	s.idleTk = timer.After(f.lifeCtx, f.MaxIdle, f.Clock).Do(func(context.Context) {
		f.mu.Lock()
		evicted := f.sessions[s.key] == s
		if evicted {
			delete(f.sessions, s.key)
		}
		f.mu.Unlock()

		if evicted {
			if log := f.log(); log != nil {
				log.Debug("session idle-evicted", "key", s.key, "trace", s.trace)
			}
		}
	})
}

// onSessionEvent handles one event emitted by a session's sub-pipeline,
// routing it to the oldest request still waiting on that session.
func (f *Mux) onSessionEvent(ctx *gate.Context, s *session, ev event.Event) {
	if se, ok := ev.(*event.StreamEnd); ok {
		f.mu.Lock()
		if f.sessions[s.key] == s {
			delete(f.sessions, s.key)
		}
		f.mu.Unlock()

		pipeline.AutoRelease(ctx, func() { f.pipelineArena().Release(s.handle) })
		f.terminateSession(ctx, s, se)

		return
	}

	complete := s.respBuf.Push(ev) != nil
	if complete {
		s.respBuf.Messages() // drain; the session's respBuf is long-lived, so
		// retained completed-Message pointers would otherwise accumulate for
		// the session's whole lifetime. The Message itself was already
		// handed back by Push and is not needed again here.
	}

	f.mu.Lock()
	var toSend []event.Event
	if len(s.waiters) > 0 {
		s.waiters[0].out = append(s.waiters[0].out, ev)

		if complete {
			s.waiters[0].done = true
			s.waiters = s.waiters[1:]
			s.inflight--

			if len(s.backlog) > 0 && (f.MaxQueue <= 0 || s.inflight < f.MaxQueue) {
				toSend = s.backlog[0]
				s.backlog = s.backlog[1:]
				s.inflight++
				s.messages++

				if f.MaxMessages > 0 && s.messages >= f.MaxMessages {
					delete(f.sessions, s.key)
				}
			} else if s.tap != nil && (f.MaxQueue <= 0 || s.inflight < f.MaxQueue) {
				s.tap.Open()
			}
		}
	}
	f.mu.Unlock()

	if toSend != nil {
		if sub := f.sessionPipeline(s); sub != nil {
			input := sub.Input()
			for _, e := range toSend {
				input(ctx, e)
			}
		}
	}

	f.flush(ctx)
}

// terminateSession delivers se to every request still waiting on s,
// releasing their slots once the global FIFO reaches them.
func (f *Mux) terminateSession(ctx *gate.Context, s *session, se *event.StreamEnd) {
	f.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	if s.idleTk != nil {
		s.idleTk.Cancel()
	}
	f.mu.Unlock()

	if log := f.log(); log != nil {
		log.Debug("session closed", "key", s.key, "trace", s.trace, "stranded_waiters", len(waiters))
	}

	for _, w := range waiters {
		w.out = append(w.out, se)
		w.done = true
	}

	f.flush(ctx)
}

func (f *Mux) flush(ctx *gate.Context) {
	f.mu.Lock()
	var ready []*slot
	for len(f.queue) > 0 && f.queue[0].done {
		ready = append(ready, f.queue[0])
		f.queue = f.queue[1:]
	}
	f.mu.Unlock()

	for _, s := range ready {
		for _, ev := range s.out {
			f.Output(ctx, ev)
		}
	}
}

func (f *Mux) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.idleTk != nil {
			s.idleTk.Cancel()
		}

		f.pipelineArena().Release(s.handle)
	}

	f.sessions = make(map[string]*session)
	f.queue = nil
	f.inbuf.Reset()
}

var (
	_ filter.Filter        = (*Mux)(nil)
	_ filter.ContextSetter = (*Mux)(nil)
)
