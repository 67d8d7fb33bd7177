package pipeline

import (
	"fmt"
	"sync"

	"github.com/relaymesh/pipecore/arena"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
)

// State is a Pipeline instance's lifecycle stage.
type State int

const (
	Created State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Pipeline is a live instance of a Layout bound to a worker context. Its
// Context field is opaque here per spec section 3.3 ("runtime vars,
// logging scope, shared module state") — the concrete type is
// *worker.Context, but pipeline cannot import worker without a cycle
// (worker owns the arena of Pipelines), so it is threaded through as `any`
// and type-asserted back by worker and by filters that need it.
//
// A Pipeline does not own its own arena slot; whatever spawned it (a joint
// filter, a listener) inserts it into an arena.Arena[*Pipeline] and records
// the resulting Handle here via SetHandle, so that code holding only the
// Handle can resolve the Pipeline back through Arena.Get instead of a raw
// pointer, and AutoRelease can free the slot once the Pipeline ends.
type Pipeline struct {
	mu sync.Mutex

	Layout  *Layout
	Context any

	handle   arena.Handle
	filters  []filter.Filter
	chainOut filter.Input
	state    State
	bindErr  error
}

// SetHandle records h as the arena.Handle this Pipeline was stored under.
// Callers that own the backing arena should call this immediately after
// Insert.
func (p *Pipeline) SetHandle(h arena.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handle = h
}

// Handle returns the arena.Handle last set via SetHandle, or the zero
// (invalid) Handle if none was ever set.
func (p *Pipeline) Handle() arena.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.handle
}

// Make clones layout's filter prototypes in order, chains them to each
// other, and returns the new Pipeline in the Created state. wctx is
// threaded through to filters as Pipeline.Context.
func Make(layout *Layout, wctx any) *Pipeline {
	p := &Pipeline{Layout: layout, Context: wctx, state: Created}

	p.filters = make([]filter.Filter, len(layout.Filters))
	for i, proto := range layout.Filters {
		f := proto.Clone()
		if setter, ok := f.(filter.ContextSetter); ok {
			setter.SetContext(wctx)
		}

		if setter, ok := f.(filter.LayoutSetter); ok {
			setter.SetLayout(layout)
		}

		if err := f.Bind(); err != nil {
			p.bindErr = err
		}

		p.filters[i] = f
	}

	for i := 0; i < len(p.filters)-1; i++ {
		next := p.filters[i+1]
		p.filters[i].Chain(next.Process)
	}

	if n := len(p.filters); n > 0 {
		p.filters[n-1].Chain(func(ctx *gate.Context, ev event.Event) {
			p.mu.Lock()
			out := p.chainOut
			p.mu.Unlock()

			if out != nil {
				out(ctx, ev)
			}
		})
	}

	return p
}

// Chain sets the downstream sink the last filter emits to — the pipeline's
// "reply-back chain" target.
func (p *Pipeline) Chain(output filter.Input) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chainOut = output
}

// Input returns the first filter's input, wrapped with the StreamEnd
// lifecycle hook and reverse-order Reset on termination. If the pipeline
// has no filters, events are forwarded directly to chainOut.
func (p *Pipeline) Input() filter.Input {
	return func(ctx *gate.Context, ev event.Event) {
		if se, ok := ev.(*event.StreamEnd); ok {
			p.handleStreamEnd(ctx, se)

			return
		}

		if len(p.filters) == 0 {
			p.mu.Lock()
			out := p.chainOut
			p.mu.Unlock()

			if out != nil {
				out(ctx, ev)
			}

			return
		}

		p.filters[0].Process(ctx, ev)
	}
}

func (p *Pipeline) handleStreamEnd(ctx *gate.Context, se *event.StreamEnd) {
	if len(p.filters) > 0 {
		p.filters[0].Process(ctx, se)
	} else {
		p.mu.Lock()
		out := p.chainOut
		p.mu.Unlock()

		if out != nil {
			out(ctx, se)
		}
	}

	p.end(se)
}

func (p *Pipeline) end(se *event.StreamEnd) {
	p.mu.Lock()
	if p.state == Ended {
		p.mu.Unlock()

		return
	}

	p.state = Ended
	onEnd := p.Layout.OnEnd
	filters := p.filters
	p.mu.Unlock()

	for i := len(filters) - 1; i >= 0; i-- {
		filters[i].Reset()
	}

	if onEnd != nil {
		onEnd(se.Cause)
	}
}

// Start runs the layout's on-start hook (if any) and transitions the
// pipeline to Running.
func (p *Pipeline) Start(args any) error {
	p.mu.Lock()
	if p.state != Created {
		p.mu.Unlock()

		return fmt.Errorf("pipeline: Start called in state %s, want Created", p.state)
	}

	p.state = Running
	onStart := p.Layout.OnStart
	p.mu.Unlock()

	if onStart == nil {
		return nil
	}

	var initial []event.Event
	switch {
	case onStart.InitialFunc != nil:
		initial = onStart.InitialFunc(args)
	case onStart.InitialEvents != nil:
		initial = onStart.InitialEvents
	}

	ctx := gate.NewContext()
	leave := ctx.Enter()
	defer leave()

	input := p.Input()
	for _, ev := range initial {
		input(ctx, ev)
	}

	return nil
}

// BindErr returns the first error any filter's Bind returned during Make,
// if any. Start does not consult this automatically — callers that use
// symbolic sub-layout references (link by name, chiefly) should check it
// before Start.
func (p *Pipeline) BindErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bindErr
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// AutoRelease defers release until ctx's outermost frame drains, so a
// reentrant flush in progress cannot be invalidated by freeing the
// pipeline's arena slot out from under it.
func AutoRelease(ctx *gate.Context, release func()) {
	ctx.OnLeave(release)
}
