package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
)

// recorder is a minimal filter.Filter that appends every processed event
// to a shared slice and forwards it downstream unchanged.
type recorder struct {
	filter.Base
	log *[]event.Event
}

func newRecorder(name string, log *[]event.Event) *recorder {
	return &recorder{Base: filter.Base{Name: name}, log: log}
}

func (r *recorder) Clone() filter.Filter { return newRecorder(r.Name, r.log) }
func (r *recorder) Process(ctx *gate.Context, ev event.Event) {
	*r.log = append(*r.log, ev)
	r.Output(ctx, ev)
}

func TestPipelineChainsFiltersInOrder(t *testing.T) {
	var a, b []event.Event

	layout := pipeline.NewLayout([]filter.Prototype{
		newRecorder("a", &a),
		newRecorder("b", &b),
	})

	p := pipeline.Make(layout, nil)

	var final []event.Event
	p.Chain(func(_ *gate.Context, ev event.Event) { final = append(final, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	ms := event.NewMessageStart()
	p.Input()(ctx, ms)
	leave()

	assert.Equal(t, []event.Event{ms}, a)
	assert.Equal(t, []event.Event{ms}, b)
	assert.Equal(t, []event.Event{ms}, final)
}

func TestPipelineStartWithInitialEvents(t *testing.T) {
	var got []event.Event
	layout := pipeline.NewLayout(
		[]filter.Prototype{newRecorder("r", &got)},
		pipeline.WithOnStart(&pipeline.OnStart{InitialEvents: []event.Event{event.NewMessageStart()}}),
	)

	p := pipeline.Make(layout, nil)
	assert.NoError(t, p.Start(nil))
	assert.Equal(t, pipeline.Running, p.State())
	assert.Len(t, got, 1)
}

func TestPipelineStartWithInitialFunc(t *testing.T) {
	var got []event.Event
	layout := pipeline.NewLayout(
		[]filter.Prototype{newRecorder("r", &got)},
		pipeline.WithOnStart(&pipeline.OnStart{
			InitialFunc: func(args any) []event.Event {
				return []event.Event{event.NewData([]byte(args.(string)))}
			},
		}),
	)

	p := pipeline.Make(layout, nil)
	assert.NoError(t, p.Start("seed"))
	assert.Len(t, got, 1)
}

func TestPipelineDoubleStartErrors(t *testing.T) {
	layout := pipeline.NewLayout(nil)
	p := pipeline.Make(layout, nil)

	assert.NoError(t, p.Start(nil))
	assert.Error(t, p.Start(nil))
}

func TestStreamEndResetsFiltersInReverseOrderAndFiresOnEnd(t *testing.T) {
	var order []string
	var endValue any

	layout := pipeline.NewLayout(
		[]filter.Prototype{&resetRecorder{name: "a", order: &order}, &resetRecorder{name: "b", order: &order}},
		pipeline.WithOnEnd(func(value any) { endValue = value }),
	)

	p := pipeline.Make(layout, nil)

	ctx := gate.NewContext()
	leave := ctx.Enter()
	p.Input()(ctx, event.NewStreamEnd(event.Cancelled))
	leave()

	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, pipeline.Ended, p.State())
	assert.Equal(t, event.Cause{Kind: event.Cancelled}, endValue)
}

type resetRecorder struct {
	filter.Base
	name  string
	order *[]string
}

func (r *resetRecorder) Clone() filter.Filter { return &resetRecorder{name: r.name, order: r.order} }
func (r *resetRecorder) Process(ctx *gate.Context, ev event.Event) { r.Output(ctx, ev) }
func (r *resetRecorder) Reset()                                   { *r.order = append(*r.order, r.name) }

func TestLayoutDumpIncludesFilterNamesAndSubLayouts(t *testing.T) {
	sub := pipeline.NewLayout([]filter.Prototype{newRecorder("inner", &[]event.Event{})}, pipeline.WithName("sub"))
	top := pipeline.NewLayout(
		[]filter.Prototype{newRecorder("outer", &[]event.Event{})},
		pipeline.WithName("top"),
		pipeline.WithNamed("branch", sub),
	)

	dump := top.Dump()
	assert.Contains(t, dump, "top")
	assert.Contains(t, dump, "to:branch")
}
