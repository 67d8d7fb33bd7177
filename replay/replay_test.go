package replay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/replay"
	"github.com/relaymesh/pipecore/retry"
)

// flaky emits StreamEnd{Replay} the first time it sees a complete message,
// then answers with an empty MessageStart/MessageEnd pair (no Data) on
// every attempt after that — spec.md §8 scenario 4.
type flaky struct {
	filter.Base
	attempt *int
}

func newFlaky(attempt *int) *flaky { return &flaky{attempt: attempt} }

func (f *flaky) Clone() filter.Filter { return &flaky{attempt: f.attempt} }

func (f *flaky) Process(ctx *gate.Context, ev event.Event) {
	if _, ok := ev.(*event.MessageEnd); !ok {
		return
	}

	*f.attempt++
	if *f.attempt == 1 {
		f.Output(ctx, event.NewStreamEnd(event.Replay))

		return
	}

	f.Output(ctx, event.NewMessageStart())
	f.Output(ctx, &event.MessageEnd{})
}

func TestReplayRetriesOnceOnReplaySentinelAfterDelay(t *testing.T) {
	var attempts int
	layout := pipeline.NewLayout([]filter.Prototype{newFlaky(&attempts)})
	f := replay.New(t.Context(), layout, retry.FixedBackoff(50*time.Millisecond), nil)

	var out []event.Event
	f.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()

	start := time.Now()
	f.Process(ctx, event.NewMessageStart())
	f.Process(ctx, &event.MessageEnd{})
	leave()

	deadline := time.After(300 * time.Millisecond)
	for len(out) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for replay to retry and respond")
		case <-time.After(time.Millisecond):
		}
	}
	elapsed := time.Since(start)

	assert.Equal(t, 2, attempts, "exactly one replay: two attempts total")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
	assert.Len(t, out, 2)
	_, isStart := out[0].(*event.MessageStart)
	_, isEnd := out[1].(*event.MessageEnd)
	assert.True(t, isStart)
	assert.True(t, isEnd)
}

func TestReplayMaxAttemptsOneIsIdentityOnReplaySentinel(t *testing.T) {
	var attempts int
	layout := pipeline.NewLayout([]filter.Prototype{newFlaky(&attempts)})
	f := replay.New(t.Context(), layout, retry.NoBackoff(), nil)
	f.MaxAttempts = 1

	var out []event.Event
	f.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	f.Process(ctx, event.NewMessageStart())
	f.Process(ctx, &event.MessageEnd{})
	leave()

	assert.Equal(t, 1, attempts, "MaxAttempts 1 forwards the first StreamEnd{Replay} instead of retrying")
	assert.Len(t, out, 1)
	se, ok := out[0].(*event.StreamEnd)
	assert.True(t, ok)
	assert.Equal(t, event.Replay, se.Cause.Kind)
}

func TestReplayNonReplayStreamEndEndsWithoutRetry(t *testing.T) {
	layout := pipeline.NewLayout([]filter.Prototype{&passthroughThenFail{}})
	f := replay.New(t.Context(), layout, retry.NoBackoff(), nil)

	var out []event.Event
	f.Chain(func(_ *gate.Context, ev event.Event) { out = append(out, ev) })

	ctx := gate.NewContext()
	leave := ctx.Enter()
	f.Process(ctx, event.NewMessageStart())
	f.Process(ctx, &event.MessageEnd{})
	leave()

	assert.Len(t, out, 1)
	se, ok := out[0].(*event.StreamEnd)
	assert.True(t, ok)
	assert.Equal(t, event.ConnectionTimeout, se.Cause.Kind)
}

type passthroughThenFail struct {
	filter.Base
}

func (f *passthroughThenFail) Clone() filter.Filter { return &passthroughThenFail{} }

func (f *passthroughThenFail) Process(ctx *gate.Context, ev event.Event) {
	if _, ok := ev.(*event.MessageEnd); !ok {
		return
	}

	f.Output(ctx, event.NewStreamEnd(event.ConnectionTimeout))
}
