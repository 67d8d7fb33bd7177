package link_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/link"
	"github.com/relaymesh/pipecore/pipeline"
)

type recorder struct {
	filter.Base
	log *[]event.Event
}

func (r *recorder) Clone() filter.Filter { return &recorder{log: r.log} }
func (r *recorder) Process(ctx *gate.Context, ev event.Event) {
	*r.log = append(*r.log, ev)
	r.Output(ctx, ev)
}

func TestLinkByNameResolvesAgainstOwningLayout(t *testing.T) {
	var log []event.Event
	target := pipeline.NewLayout([]filter.Prototype{&recorder{log: &log}})

	l := link.ByName("target")
	owner := pipeline.NewLayout([]filter.Prototype{l}, pipeline.WithNamed("target", target))

	p := pipeline.Make(owner, nil)
	assert.NoError(t, p.BindErr())

	var out []event.Event
	p.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	p.Input()(ctx, event.NewData([]byte("x")))
	leave()

	assert.Len(t, log, 1)
	assert.Len(t, out, 1)
}

func TestLinkByNameMissingSurfacesBindErr(t *testing.T) {
	owner := pipeline.NewLayout([]filter.Prototype{link.ByName("nope")})

	p := pipeline.Make(owner, nil)
	assert.Error(t, p.BindErr())
}

func TestLinkByFuncSpawnsLazily(t *testing.T) {
	var log []event.Event
	called := 0
	l := link.ByFunc(func(wctx any) *pipeline.Layout {
		called++

		return pipeline.NewLayout([]filter.Prototype{&recorder{log: &log}})
	})

	l.Chain(func(*gate.Context, event.Event) {})

	ctx := gate.NewContext()
	leave := ctx.Enter()
	l.Process(ctx, event.NewData([]byte("a")))
	l.Process(ctx, event.NewData([]byte("b")))
	leave()

	assert.Equal(t, 1, called, "Fn must only be invoked once")
	assert.Len(t, log, 2)
}

func TestPipeNextForwardsIntoChainedModule(t *testing.T) {
	var log []event.Event
	next := pipeline.NewLayout([]filter.Prototype{&recorder{log: &log}})
	owner := pipeline.NewLayout([]filter.Prototype{link.NewPipeNext()}, pipeline.WithChain(next))

	p := pipeline.Make(owner, nil)

	var out []event.Event
	p.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	p.Input()(ctx, event.NewData([]byte("x")))
	leave()

	assert.Len(t, log, 1)
	assert.Len(t, out, 1)
}

func TestPipeNextWithNoChainPassesThrough(t *testing.T) {
	owner := pipeline.NewLayout([]filter.Prototype{link.NewPipeNext()})
	p := pipeline.Make(owner, nil)

	var out []event.Event
	p.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	ev := event.NewData([]byte("x"))
	p.Input()(ctx, ev)
	leave()

	assert.Equal(t, []event.Event{ev}, out)
}

func TestPipeResolvesByKeyAndThreadsInitArgs(t *testing.T) {
	var log []event.Event
	var startedWith any
	target := pipeline.NewLayout(
		[]filter.Prototype{&recorder{log: &log}},
		pipeline.WithOnStart(&pipeline.OnStart{
			InitialFunc: func(args any) []event.Event {
				startedWith = args

				return nil
			},
		}),
	)

	pf := link.NewPipe(nil, map[string]*pipeline.Layout{"a": target}, func(ev event.Event) string {
		ms, _ := ev.(*event.MessageStart)
		if ms == nil {
			return ""
		}

		return ms.Head["route"].(string)
	}, "init-arg")

	var out []event.Event
	pf.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	start := event.NewMessageStart()
	start.Head["route"] = "a"
	pf.Process(ctx, start)
	leave()

	assert.Equal(t, "init-arg", startedWith)
	assert.Len(t, log, 1)
	assert.Len(t, out, 1)
}
