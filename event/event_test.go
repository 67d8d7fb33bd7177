package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/errors"
	"github.com/relaymesh/pipecore/event"
)

func TestDataSizeAndPush(t *testing.T) {
	d := event.NewData([]byte("ab"), []byte("cde"))
	assert.Equal(t, 5, d.Size())

	d.Push([]byte("fg"))
	assert.Equal(t, 7, d.Size())
	assert.Equal(t, "abcdefg", string(d.Bytes()))
}

func TestDataPushEmptyIsNoop(t *testing.T) {
	d := event.NewData([]byte("ab"))
	d.Push(nil)
	assert.Len(t, d.Chunks(), 1)
}

func TestDataSliceAtChunkBoundary(t *testing.T) {
	d := event.NewData([]byte("ab"), []byte("cde"))
	head := d.Slice(2)

	assert.Equal(t, "ab", string(head.Bytes()))
	assert.Equal(t, "cde", string(d.Bytes()))
}

func TestDataSliceMidChunk(t *testing.T) {
	d := event.NewData([]byte("ab"), []byte("cde"))
	head := d.Slice(3)

	assert.Equal(t, "abc", string(head.Bytes()))
	assert.Equal(t, "de", string(d.Bytes()))
}

func TestDataSliceBeyondLength(t *testing.T) {
	d := event.NewData([]byte("ab"), []byte("cde"))
	head := d.Slice(100)

	assert.Equal(t, "abcde", string(head.Bytes()))
	assert.Equal(t, 0, d.Size())
}

func TestDataSliceZeroOrNegative(t *testing.T) {
	d := event.NewData([]byte("ab"))
	head := d.Slice(0)

	assert.Equal(t, 0, head.Size())
	assert.Equal(t, 2, d.Size())
}

func TestStreamEndCarriesRuntimeError(t *testing.T) {
	err := errors.ErrRuntime.Clone().AddMeta("detail", "boom")
	se := event.NewRuntimeStreamEnd(err)

	assert.Equal(t, event.Runtime, se.Cause.Kind)
	assert.Same(t, err, se.Cause.Err)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "ProtocolError", event.ProtocolError.String())
	assert.Equal(t, "Unknown", event.ErrorKind(999).String())
}
