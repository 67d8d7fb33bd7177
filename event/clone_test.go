package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/event"
)

func TestCloneDataIsIndependentStructButSharesBytes(t *testing.T) {
	d := event.NewData([]byte("hi"))
	clone := event.Clone(d).(*event.Data)

	assert.NotSame(t, d, clone)
	assert.Equal(t, "hi", string(clone.Bytes()))

	clone.Push([]byte("!"))
	assert.Equal(t, 2, d.Size(), "pushing onto the clone must not affect the original's chunk list")
}

func TestCloneMessageStartCopiesStruct(t *testing.T) {
	ms := event.NewMessageStart()
	ms.Head["k"] = "v"

	clone := event.Clone(ms).(*event.MessageStart)
	assert.NotSame(t, ms, clone)
	assert.Equal(t, "v", clone.Head["k"])
}
