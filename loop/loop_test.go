package loop_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/loop"
	"github.com/relaymesh/pipecore/pipeline"
)

// counter increments a numeric Data payload each pass until it reaches
// limit, then emits StreamEnd instead of looping further.
type counter struct {
	filter.Base
	limit int
	seen  *[]int
}

func (c *counter) Clone() filter.Filter { return &counter{limit: c.limit, seen: c.seen} }
func (c *counter) Process(ctx *gate.Context, ev event.Event) {
	d, ok := ev.(*event.Data)
	if !ok {
		return
	}

	n, _ := strconv.Atoi(string(d.Bytes()))
	*c.seen = append(*c.seen, n)

	if n >= c.limit {
		c.Output(ctx, event.NewStreamEnd(event.NoError))

		return
	}

	c.Output(ctx, event.NewData([]byte(strconv.Itoa(n+1))))
}

func TestLoopFeedsRepliesBackUntilTerminal(t *testing.T) {
	var seen []int
	layout := pipeline.NewLayout([]filter.Prototype{&counter{limit: 3, seen: &seen}})

	f := loop.New(layout)

	var out []event.Event
	f.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	f.Process(ctx, event.NewData([]byte("0")))
	leave()

	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Len(t, out, 1)
	_, isStreamEnd := out[0].(*event.StreamEnd)
	assert.True(t, isStreamEnd)
}

func TestLoopResetClearsSubPipeline(t *testing.T) {
	var seen []int
	layout := pipeline.NewLayout([]filter.Prototype{&counter{limit: 0, seen: &seen}})
	f := loop.New(layout)
	f.Chain(func(*gate.Context, event.Event) {})

	ctx := gate.NewContext()
	leave := ctx.Enter()
	f.Process(ctx, event.NewData([]byte("0")))
	leave()

	f.Reset()
	assert.NotPanics(t, func() {
		ctx2 := gate.NewContext()
		leave2 := ctx2.Enter()
		f.Process(ctx2, event.NewData([]byte("0")))
		leave2()
	})
}
