// Package worker owns per-worker state (spec section 9's "global tables"
// note) instead of process-wide singletons: the pipeline arena, the Hub
// party-set registry, the throttle account stores, and the timer
// scheduler. Mux session pools are not held here: each mux.Mux keeps its
// own sessions. Joint filters reach these through the *worker.Context
// handed to them via pipeline.Pipeline.Context.
//
// Grounded on the teacher's account.Store / timer.Scheduler construction
// idiom (a struct holding several sub-stores, built once via a
// constructor, torn down via a single Close) generalized from one store
// to the handful a worker coordinates.
package worker

import (
	"context"
	"sync"

	"github.com/relaymesh/pipecore/account"
	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/logger"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/quota"
	"github.com/relaymesh/pipecore/timer"
)

// Context is the opaque per-worker state threaded through Pipeline.Context.
// It is the concrete type behind the `any` pipeline.Pipeline.Context field
// — filters that need worker services type-assert it back.
type Context struct {
	Worker *Worker
	Vars   map[string]any

	mu sync.RWMutex
}

// Get reads a shared module-scoped variable.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.Vars[key]

	return v, ok
}

// Set writes a shared module-scoped variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Vars == nil {
		c.Vars = make(map[string]any)
	}

	c.Vars[key] = value
}

// Worker is the single-threaded cooperative runtime owning one arena of
// live pipelines plus the shared registries joint filters consult: Hub
// party sets (by name) and throttle accounts (by string key). It holds no
// mux session pools. There is no cross-worker sharing;
// every field here is exclusively owned.
type Worker struct {
	Log   logger.Logger
	Clock timer.Clock

	Pipelines *arena.Arena[*pipeline.Pipeline]
	Scheduler *timer.Scheduler

	mu       sync.Mutex
	hubs     map[string]any
	accounts map[string]*account.Store[string]
	ctx      context.Context
}

// New returns a Worker ready to host pipelines. ctx governs the lifetime
// of its background sweeps (account stores, scheduler ticks).
func New(ctx context.Context, log logger.Logger, clock timer.Clock) *Worker {
	if log == nil {
		log = logger.NewSlog(nil)
	}

	return &Worker{
		Log:       log,
		Clock:     clock,
		Pipelines: arena.New[*pipeline.Pipeline](),
		Scheduler: timer.NewScheduler(ctx, "worker", clock),
		hubs:      make(map[string]any),
		accounts:  make(map[string]*account.Store[string]),
		ctx:       ctx,
	}
}

// Context returns a fresh per-pipeline Context bound to this worker.
func (w *Worker) Context() *Context {
	return &Context{Worker: w}
}

// HubRegistry returns the value registered for name, creating it via
// create on first use. The value is kept as `any` — concretely a
// *hub.Hub — so worker does not need to import hub.
func (w *Worker) HubRegistry(name string, create func() any) any {
	w.mu.Lock()
	defer w.mu.Unlock()

	v, ok := w.hubs[name]
	if !ok {
		v = create()
		w.hubs[name] = v
	}

	return v
}

// AccountStore returns the named throttle account store, creating an empty
// one on first use.
func (w *Worker) AccountStore(name string) *account.Store[string] {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.accounts[name]; ok {
		return s
	}

	s := account.NewStore[string](w.ctx, w.Clock)
	w.accounts[name] = s

	return s
}

// Quota is a re-export convenience so callers configuring throttle filters
// don't need a second import for the common case.
type Quota = quota.Amount

// ArenaFor returns the Pipelines arena owned by wctx's Worker, or nil if
// wctx is not a *worker.Context or carries no Worker — the bare contexts a
// joint filter's own unit tests typically pass in place of a real one.
// Callers spawning sub-pipelines without a live Worker fall back to a
// private arena of their own (see e.g. fork.Filter.pipelineArena).
func ArenaFor(wctx any) *arena.Arena[*pipeline.Pipeline] {
	wc, ok := wctx.(*Context)
	if !ok || wc.Worker == nil {
		return nil
	}

	return wc.Worker.Pipelines
}
