package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/gate"
)

func TestTapStartsOpen(t *testing.T) {
	tap := gate.NewTap()
	assert.Equal(t, gate.Open, tap.State())
}

func TestTapTransitionsNotifySubscribers(t *testing.T) {
	tap := gate.NewTap()
	var seen []gate.State

	tap.Subscribe(func(s gate.State) { seen = append(seen, s) })

	tap.Close()
	tap.Close() // no-op, already closed
	tap.Open()

	assert.Equal(t, []gate.State{gate.Closed, gate.Open}, seen)
}

func TestTapStateString(t *testing.T) {
	assert.Equal(t, "Open", gate.Open.String())
	assert.Equal(t, "Closed", gate.Closed.String())
}
