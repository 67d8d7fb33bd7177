package worker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/timer"
	"github.com/relaymesh/pipecore/worker"
)

func TestContextGetSetIsolated(t *testing.T) {
	w := worker.New(t.Context(), nil, timer.SystemClock{})
	ctx := w.Context()

	_, ok := ctx.Get("missing")
	assert.False(t, ok)

	ctx.Set("key", 42)
	v, ok := ctx.Get("key")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestHubRegistryCreatesOnceAndReuses(t *testing.T) {
	w := worker.New(t.Context(), nil, timer.SystemClock{})
	calls := 0
	create := func() any { calls++; return "hub-value" }

	v1 := w.HubRegistry("h1", create)
	v2 := w.HubRegistry("h1", create)

	assert.Equal(t, "hub-value", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestAccountStoreIsPerNameSingleton(t *testing.T) {
	w := worker.New(t.Context(), nil, timer.SystemClock{})

	s1 := w.AccountStore("throttle-a")
	s2 := w.AccountStore("throttle-a")
	s3 := w.AccountStore("throttle-b")

	assert.Same(t, s1, s2)
	assert.NotSame(t, s1, s3)
}
