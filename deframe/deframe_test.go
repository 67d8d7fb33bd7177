package deframe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/deframe"
	"github.com/relaymesh/pipecore/event"
)

// A tiny "length-prefixed frame" protocol: state 0 reads a 1-byte length,
// state 1 reads that many bytes as the frame body and emits it, looping
// back to state 0. Used to exercise one-byte dispatch and Read; Pass has
// its own machine in TestDeframePassForwardsRawBytesWithoutDispatch.
const (
	stateLength = 0
	stateBody   = 1
)

func lengthPrefixedMachine(frames *[]string) *deframe.Machine {
	var m *deframe.Machine
	onState := func(state int, in deframe.Input) int {
		switch state {
		case stateLength:
			if in.IsBuffer() {
				return -1
			}

			n := int(in.Byte)
			m.Read(n)

			return stateBody

		case stateBody:
			if !in.IsBuffer() {
				return -1
			}

			*frames = append(*frames, string(in.Buffer.Bytes()))

			return stateLength

		default:
			return -1
		}
	}

	m = deframe.New(onState, nil)

	return m
}

func TestDeframeReadsLengthPrefixedFramesWholeInput(t *testing.T) {
	var frames []string
	m := lengthPrefixedMachine(&frames)

	input := []byte{3, 'a', 'b', 'c', 2, 'x', 'y'}
	m.Deframe([][]byte{input})

	assert.Equal(t, []string{"abc", "xy"}, frames)
	assert.False(t, m.Halted())
}

func TestDeframeStreamabilityAcrossArbitraryChunkBoundaries(t *testing.T) {
	input := []byte{3, 'a', 'b', 'c', 2, 'x', 'y'}

	for split := 0; split <= len(input); split++ {
		var frames []string
		m := lengthPrefixedMachine(&frames)

		chunks := [][]byte{input[:split], input[split:]}
		m.Deframe(chunks)

		assert.Equal(t, []string{"abc", "xy"}, frames, "split at byte %d must reproduce the same frames", split)
		assert.False(t, m.Halted())
	}
}

func TestDeframeByteAtATimeChunksProduceSameResult(t *testing.T) {
	input := []byte{3, 'a', 'b', 'c', 2, 'x', 'y'}

	var frames []string
	m := lengthPrefixedMachine(&frames)

	chunks := make([][]byte, len(input))
	for i, b := range input {
		chunks[i] = []byte{b}
	}
	m.Deframe(chunks)

	assert.Equal(t, []string{"abc", "xy"}, frames)
}

func TestDeframeNegativeStateHaltsMachine(t *testing.T) {
	onState := func(state int, in deframe.Input) int { return -1 }
	m := deframe.New(onState, nil)

	m.Deframe([][]byte{{1, 2, 3}})

	assert.True(t, m.Halted())
}

func TestDeframeHaltedMachineStopsProcessingFurtherChunks(t *testing.T) {
	var calls int
	onState := func(state int, in deframe.Input) int {
		calls++
		if calls == 1 {
			return -1
		}

		return 0
	}
	m := deframe.New(onState, nil)

	m.Deframe([][]byte{{1}, {2}, {3}})

	assert.Equal(t, 1, calls)
	assert.True(t, m.Halted())
}

func TestDeframePassForwardsRawBytesWithoutDispatch(t *testing.T) {
	var passed []byte

	// State 0 reads a count byte and arms a Pass of that many raw bytes;
	// once consumed, the machine returns to state 0's one-byte dispatch
	// for the next count byte, with no OnState call for the passed bytes
	// themselves.
	var m *deframe.Machine
	onState := func(state int, in deframe.Input) int {
		n := int(in.Byte)
		m.Pass(n)

		return 0
	}
	m = deframe.New(onState, func(data *event.Data) { passed = append(passed, data.Bytes()...) })

	m.Deframe([][]byte{{3, 'a', 'b', 'c', 0}})

	assert.Equal(t, []byte("abc"), passed)
	assert.False(t, m.Halted())
}

func TestDeframeResetClearsHaltAndBulkState(t *testing.T) {
	onState := func(state int, in deframe.Input) int { return -1 }
	m := deframe.New(onState, nil)

	m.Deframe([][]byte{{1}})
	assert.True(t, m.Halted())

	m.Reset()
	assert.False(t, m.Halted())
}
