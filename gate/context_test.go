package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
)

func TestEnterLeaveTracksDepth(t *testing.T) {
	ctx := gate.NewContext()
	assert.Equal(t, 0, ctx.Depth())

	leave := ctx.Enter()
	assert.Equal(t, 1, ctx.Depth())

	inner := ctx.Enter()
	assert.Equal(t, 2, ctx.Depth())

	inner()
	assert.Equal(t, 1, ctx.Depth())

	leave()
	assert.Equal(t, 0, ctx.Depth())
}

func TestDeferFlushesOnOutermostLeave(t *testing.T) {
	ctx := gate.NewContext()
	var delivered []event.Event

	sink := func(_ *gate.Context, ev event.Event) {
		delivered = append(delivered, ev)
	}

	leave := ctx.Enter()
	inner := ctx.Enter()

	ms := event.NewMessageStart()
	ctx.Defer(sink, ms)
	assert.Empty(t, delivered, "deferred event must not deliver before outermost leave")

	inner()
	assert.Empty(t, delivered, "nested leave must not drain")

	leave()
	assert.Equal(t, []event.Event{ms}, delivered)
}

func TestDeferredEventsCanQueueMore(t *testing.T) {
	ctx := gate.NewContext()
	count := 0

	var sink func(ctx *gate.Context, ev event.Event)
	sink = func(ctx *gate.Context, ev event.Event) {
		count++
		if count < 3 {
			ctx.Defer(sink, ev)
		}
	}

	leave := ctx.Enter()
	ctx.Defer(sink, event.NewMessageStart())
	leave()

	assert.Equal(t, 3, count)
}

func TestOnLeaveRunsAfterFlush(t *testing.T) {
	ctx := gate.NewContext()
	var order []string

	leave := ctx.Enter()
	ctx.OnLeave(func() { order = append(order, "release") })
	ctx.Defer(func(_ *gate.Context, _ event.Event) {
		order = append(order, "flush")
	}, event.NewMessageStart())
	leave()

	assert.Equal(t, []string{"flush", "release"}, order)
}
