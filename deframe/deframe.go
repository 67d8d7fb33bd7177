// Package deframe provides the byte-level state machine scaffolding codec
// filters build on (spec section 4.14): a Machine that dispatches OnState
// per byte in "one-byte" mode, or accumulates/forwards whole runs of bytes
// once a state arms a bulk Read or Pass. A completed Read dispatches OnState
// once with the whole buffer; a completed Pass dispatches nothing, and
// one-byte dispatch resumes with the next byte.
//
// Grounded on the original Deframer/Deframe pair (original_source/src/
// filters/deframe.cpp): on_state returning a negative state halts the
// machine (a codec filter embedding Machine turns that into a
// StreamEnd{ProtocolError}), read(n, sink) arms accumulation into a buffer
// delivered whole to the next on_state call, pass(n) arms raw forwarding
// via on_pass with no on_state dispatch until the n bytes are consumed. No
// teacher package covers this (ezex-io-gopkg never parses a wire format
// byte by byte); the plain struct plus function-valued fields
// mirrors the shape used throughout this module (handle.Callback,
// replace.Callback, throttle's spendFn).
package deframe

import "github.com/relaymesh/pipecore/event"

type mode int

const (
	modeByte mode = iota
	modeRead
	modePass
)

// Input is what OnState receives: either a single byte (one-byte
// dispatch), or the completed buffer from an armed Read (Buffer non-nil).
// Never both.
type Input struct {
	Byte   byte
	Buffer *event.Data
}

// IsBuffer reports whether this call is delivering a completed bulk read
// rather than a single byte.
func (in Input) IsBuffer() bool { return in.Buffer != nil }

// OnStateFunc is the inner transition: given the current state and the
// next input, it returns the next state, or a negative number to halt the
// machine (spec.md: "on_state returning -1 emits StreamEnd{ProtocolError}
// and halts" — emitting that event is the embedding filter's job, not
// Machine's, since Machine has no Context/Filter dependency).
type OnStateFunc func(state int, in Input) int

// OnPassFunc receives raw bytes forwarded untouched during a Pass phase.
type OnPassFunc func(data *event.Data)

// Machine is a reusable byte-level state machine. Zero value is not
// usable; construct with New.
type Machine struct {
	OnState OnStateFunc
	OnPass  OnPassFunc

	state     int
	mode      mode
	remaining int
	buf       *event.Data
	halted    bool
}

// New returns a Machine starting in state 0, one-byte dispatch mode.
func New(onState OnStateFunc, onPass OnPassFunc) *Machine {
	return &Machine{OnState: onState, OnPass: onPass}
}

// Read arms a bulk read of n bytes. Once n bytes have been consumed across
// however many Deframe calls or chunks it takes, the accumulated *event.Data
// is delivered to OnState as Input.Buffer and the machine returns to
// one-byte dispatch. Call from within OnState to arm the next phase.
func (m *Machine) Read(n int) {
	m.mode = modeRead
	m.remaining = n
	m.buf = event.NewData()
}

// Pass arms n bytes of untouched passthrough: each run of available bytes
// is forwarded via OnPass as encountered, with no OnState dispatch until
// all n bytes have passed. Call from within OnState to arm the next phase.
func (m *Machine) Pass(n int) {
	m.mode = modePass
	m.remaining = n
}

// Halted reports whether OnState returned a negative state and the
// machine stopped processing.
func (m *Machine) Halted() bool {
	return m.halted
}

// Reset returns the machine to state 0, one-byte dispatch mode, clearing
// any partially-accumulated bulk read.
func (m *Machine) Reset() {
	m.state = 0
	m.mode = modeByte
	m.remaining = 0
	m.buf = nil
	m.halted = false
}

// Deframe drives chunks through the machine in order, honoring whatever
// bulk Read/Pass phase is armed as it crosses chunk boundaries. Splitting
// one logical input into differently-sized chunks and feeding it through
// Deframe in multiple calls produces the same OnState/OnPass call
// sequence as feeding it whole (spec.md §8: "a Data chunk split at
// arbitrary byte boundaries and re-input produces the same downstream
// events") — chunk boundaries never force a dispatch or reset bulk-phase
// state. Deframe is a no-op once the machine has halted.
func (m *Machine) Deframe(chunks [][]byte) {
	for _, chunk := range chunks {
		if m.halted {
			return
		}

		m.deframeChunk(chunk)
	}
}

func (m *Machine) deframeChunk(chunk []byte) {
	i := 0
	for i < len(chunk) {
		switch m.mode {
		case modePass:
			n := m.remaining
			if room := len(chunk) - i; n > room {
				n = room
			}

			segment := chunk[i : i+n]
			i += n
			m.remaining -= n
			if m.remaining == 0 {
				m.mode = modeByte
			}

			if n > 0 && m.OnPass != nil {
				m.OnPass(event.NewData(append([]byte(nil), segment...)))
			}

		case modeRead:
			n := m.remaining
			if room := len(chunk) - i; n > room {
				n = room
			}

			segment := chunk[i : i+n]
			i += n
			m.buf.Push(append([]byte(nil), segment...))
			m.remaining -= n

			if m.remaining == 0 {
				buf := m.buf
				m.buf = nil
				m.mode = modeByte
				if !m.dispatch(Input{Buffer: buf}) {
					return
				}
			}

		default:
			b := chunk[i]
			i++
			if !m.dispatch(Input{Byte: b}) {
				return
			}
		}
	}
}

func (m *Machine) dispatch(in Input) bool {
	next := m.OnState(m.state, in)
	if next < 0 {
		m.halted = true

		return false
	}

	m.state = next

	return true
}
