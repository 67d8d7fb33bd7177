package hub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/hub"
)

func TestBroadcastSkipsSender(t *testing.T) {
	h := hub.New()

	var aLog, bLog []event.Event
	a := &hub.Party{ID: "a", Input: func(_ *gate.Context, ev event.Event) { aLog = append(aLog, ev) }}
	b := &hub.Party{ID: "b", Input: func(_ *gate.Context, ev event.Event) { bLog = append(bLog, ev) }}
	h.Join(a)
	h.Join(b)

	ctx := gate.NewContext()
	leave := ctx.Enter()
	ev := event.NewData([]byte("x"))
	h.Broadcast(ctx, ev, a)
	leave()

	assert.Empty(t, aLog, "sender must not receive its own broadcast")
	assert.Equal(t, []event.Event{ev}, bLog)
}

func TestJoinDuringBroadcastIsDeferred(t *testing.T) {
	h := hub.New()

	var cLog []event.Event
	c := &hub.Party{ID: "c", Input: func(_ *gate.Context, ev event.Event) { cLog = append(cLog, ev) }}

	a := &hub.Party{}
	a.Input = func(ctx *gate.Context, ev event.Event) {
		h.Join(c) // nested join while a's broadcast is unwinding
	}
	h.Join(a)

	ctx := gate.NewContext()
	leave := ctx.Enter()
	first := event.NewData([]byte("1"))
	h.Broadcast(ctx, first, nil)
	leave()

	assert.Empty(t, cLog, "c joined after the first broadcast already visited its target list")

	ctx2 := gate.NewContext()
	leave2 := ctx2.Enter()
	second := event.NewData([]byte("2"))
	h.Broadcast(ctx2, second, nil)
	leave2()

	assert.Equal(t, []event.Event{second}, cLog, "c must receive the next broadcast after joining")
}

func TestExitRemovesParty(t *testing.T) {
	h := hub.New()

	var bLog []event.Event
	a := &hub.Party{ID: "a"}
	b := &hub.Party{ID: "b", Input: func(_ *gate.Context, ev event.Event) { bLog = append(bLog, ev) }}
	h.Join(a)
	h.Join(b)
	h.Exit(b)

	ctx := gate.NewContext()
	leave := ctx.Enter()
	h.Broadcast(ctx, event.NewData([]byte("x")), a)
	leave()

	assert.Empty(t, bLog)
}

func TestThirdJoinerBecomesExtraNotPrivileged(t *testing.T) {
	h := hub.New()

	var logs [3][]event.Event
	parties := make([]*hub.Party, 3)
	for i := range parties {
		i := i
		parties[i] = &hub.Party{ID: string(rune('a' + i)), Input: func(_ *gate.Context, ev event.Event) {
			logs[i] = append(logs[i], ev)
		}}
		h.Join(parties[i])
	}

	ctx := gate.NewContext()
	leave := ctx.Enter()
	h.Broadcast(ctx, event.NewData([]byte("x")), parties[0])
	leave()

	assert.Empty(t, logs[0])
	assert.Len(t, logs[1], 1)
	assert.Len(t, logs[2], 1, "the third joiner still receives broadcasts via the extra set")
}
