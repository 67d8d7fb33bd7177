// Package event defines the typed frame model exchanged between filters:
// MessageStart, Data, MessageEnd, and StreamEnd. A well-formed message is
// MessageStart (Data*) MessageEnd; StreamEnd may appear at any point and
// terminates the stream — no event may follow it.
//
// There is no teacher package for this concern (ezex-io-gopkg is a payments
// backend toolkit, not a stream-processing engine); the shape is grounded on
// the teacher's struct-plus-functional-options idiom (seen throughout
// errors, logger, account) applied to the frame union from the original
// pipy source (see original_source/ Message/Event headers).
package event

import "github.com/relaymesh/pipecore/errors"

// Event is implemented by MessageStart, Data, MessageEnd, and StreamEnd.
// The unexported marker method keeps the union closed to this package.
type Event interface {
	isEvent()
}

// MessageStart carries optional request/response metadata (headers,
// method, status — protocol-specific; opaque to the core).
type MessageStart struct {
	Head map[string]any
}

func (*MessageStart) isEvent() {}

// NewMessageStart returns a MessageStart with a freshly allocated Head map.
func NewMessageStart() *MessageStart {
	return &MessageStart{Head: make(map[string]any)}
}

// Data is the body: an ordered sequence of byte chunks. Size is O(chunks),
// not O(bytes), matching the original's chunk-list accounting.
type Data struct {
	chunks [][]byte
}

func (*Data) isEvent() {}

// NewData returns a Data event wrapping the given chunks (not copied).
func NewData(chunks ...[]byte) *Data {
	return &Data{chunks: chunks}
}

// Size returns the total byte length across all chunks.
func (d *Data) Size() int {
	n := 0
	for _, c := range d.chunks {
		n += len(c)
	}

	return n
}

// Push appends a chunk to the end of the data.
func (d *Data) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	d.chunks = append(d.chunks, chunk)
}

// Chunks returns the underlying chunk list. Callers must not mutate it.
func (d *Data) Chunks() [][]byte {
	return d.chunks
}

// Slice splits off and returns the first n bytes as a new *Data, shrinking
// the receiver to the remainder. Chunk bytes are never copied; only chunk
// boundaries are introduced or adjusted.
func (d *Data) Slice(n int) *Data {
	if n <= 0 {
		return &Data{}
	}

	var head [][]byte

	remaining := n
	i := 0
	for remaining > 0 && i < len(d.chunks) {
		chunk := d.chunks[i]
		if remaining >= len(chunk) {
			head = append(head, chunk)
			remaining -= len(chunk)
			i++

			continue
		}

		head = append(head, chunk[:remaining])
		d.chunks[i] = chunk[remaining:]
		remaining = 0
	}

	d.chunks = d.chunks[i:]

	return &Data{chunks: head}
}

// Bytes concatenates all chunks into a single allocation. For diagnostics
// and tests; hot paths should iterate Chunks() instead.
func (d *Data) Bytes() []byte {
	out := make([]byte, 0, d.Size())
	for _, c := range d.chunks {
		out = append(out, c...)
	}

	return out
}

// MessageEnd carries optional trailing metadata and an optional terminal
// payload value (a fully decoded body object, protocol-specific).
type MessageEnd struct {
	Tail    map[string]any
	Payload any
}

func (*MessageEnd) isEvent() {}

// ErrorKind enumerates the fifteen stream-end causes.
type ErrorKind int

const (
	NoError ErrorKind = iota
	ReadError
	WriteError
	CannotResolve
	ConnectionRefused
	ConnectionReset
	ConnectionTimeout
	ReadTimeout
	WriteTimeout
	Unauthorized
	BufferOverflow
	ProtocolError
	Replay
	Cancelled
	Runtime
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "NoError"
	case ReadError:
		return "ReadError"
	case WriteError:
		return "WriteError"
	case CannotResolve:
		return "CannotResolve"
	case ConnectionRefused:
		return "ConnectionRefused"
	case ConnectionReset:
		return "ConnectionReset"
	case ConnectionTimeout:
		return "ConnectionTimeout"
	case ReadTimeout:
		return "ReadTimeout"
	case WriteTimeout:
		return "WriteTimeout"
	case Unauthorized:
		return "Unauthorized"
	case BufferOverflow:
		return "BufferOverflow"
	case ProtocolError:
		return "ProtocolError"
	case Replay:
		return "Replay"
	case Cancelled:
		return "Cancelled"
	case Runtime:
		return "Runtime"
	default:
		return "Unknown"
	}
}

// Cause is the payload of a StreamEnd: a classifying Kind plus, for
// Runtime, the structured error that triggered it.
type Cause struct {
	Kind ErrorKind
	Err  *errors.Error
}

// StreamEnd is terminal for the whole channel. No event may follow it.
type StreamEnd struct {
	Cause Cause
}

func (*StreamEnd) isEvent() {}

// NewStreamEnd builds a StreamEnd for a non-Runtime kind.
func NewStreamEnd(kind ErrorKind) *StreamEnd {
	return &StreamEnd{Cause: Cause{Kind: kind}}
}

// NewRuntimeStreamEnd builds a Runtime StreamEnd carrying err.
func NewRuntimeStreamEnd(err *errors.Error) *StreamEnd {
	return &StreamEnd{Cause: Cause{Kind: Runtime, Err: err}}
}
