// Package buffer provides the ordered event and message queues used by
// replay, branchMessage, loop, and wait (spec sections 4.5, 4.8, 4.9,
// 4.10). Neither type has a teacher analogue; the append/drain shape
// mirrors the simplicity of the teacher's account.Store sweep loop —
// a plain mutex-guarded slice, no lock-free cleverness, since these
// buffers only ever run under the single-threaded-per-worker discipline
// spec section 5 describes.
package buffer

import (
	"sync"

	"github.com/relaymesh/pipecore/event"
)

// EventBuffer is an ordered FIFO queue of events.
type EventBuffer struct {
	mu     sync.Mutex
	events []event.Event
}

// NewEventBuffer returns an empty EventBuffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{}
}

// Push appends an event to the tail.
func (b *EventBuffer) Push(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, ev)
}

// Len reports the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.events)
}

// Drain removes and returns all buffered events in arrival order.
func (b *EventBuffer) Drain() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.events
	b.events = nil

	return out
}

// Snapshot returns a copy of the currently buffered events without
// removing them — used by replay to re-deliver a message verbatim while
// still accepting new events.
func (b *EventBuffer) Snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]event.Event, len(b.events))
	copy(out, b.events)

	return out
}

// Reset discards all buffered events.
func (b *EventBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = nil
}

// Message is one complete MessageStart (Data*) MessageEnd sequence,
// materialized for branchMessage's condition evaluation and replay.
type Message struct {
	Start *event.MessageStart
	Data  []*event.Data
	End   *event.MessageEnd
}

// Events flattens the message back into its wire order.
func (m *Message) Events() []event.Event {
	out := make([]event.Event, 0, len(m.Data)+2)
	out = append(out, m.Start)
	for _, d := range m.Data {
		out = append(out, d)
	}

	out = append(out, m.End)

	return out
}

// MessageBuffer accumulates events into complete Messages, exposing each
// one as it closes. Non-message events (a StreamEnd) are collected
// unmaterialized and returned via Other; a Data or MessageEnd arriving while
// no message is open is dropped.
type MessageBuffer struct {
	mu       sync.Mutex
	current  *Message
	complete []*Message
	other    []event.Event
}

// NewMessageBuffer returns an empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{}
}

// Push feeds one event into the buffer. It returns the completed Message
// if ev was the MessageEnd that closed one, or nil otherwise.
func (b *MessageBuffer) Push(ev event.Event) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case *event.MessageStart:
		b.current = &Message{Start: e}

		return nil
	case *event.Data:
		if b.current != nil {
			b.current.Data = append(b.current.Data, e)
		}

		return nil
	case *event.MessageEnd:
		if b.current == nil {
			return nil
		}

		b.current.End = e
		msg := b.current
		b.current = nil
		b.complete = append(b.complete, msg)

		return msg
	default:
		b.other = append(b.other, ev)

		return nil
	}
}

// Messages returns and clears all completed messages.
func (b *MessageBuffer) Messages() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.complete
	b.complete = nil

	return out
}

// Other returns and clears any buffered non-message events (StreamEnd).
func (b *MessageBuffer) Other() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.other
	b.other = nil

	return out
}
