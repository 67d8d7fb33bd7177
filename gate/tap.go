package gate

import "sync"

// State is a Tap's backpressure state.
type State int

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "Closed"
	}

	return "Open"
}

// Tap is a per-pipeline backpressure handle (spec section 3.6). Closing it
// is advisory: a well-behaved upstream stops emitting, but the engine
// itself buffers on the closed side rather than depending on it for
// correctness.
type Tap struct {
	mu          sync.Mutex
	state       State
	subscribers []func(State)
}

// NewTap returns an Open Tap.
func NewTap() *Tap {
	return &Tap{state: Open}
}

// State returns the current state.
func (t *Tap) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Open transitions the tap to Open and notifies subscribers if it changed.
func (t *Tap) Open() {
	t.setState(Open)
}

// Close transitions the tap to Closed and notifies subscribers if it changed.
func (t *Tap) Close() {
	t.setState(Closed)
}

func (t *Tap) setState(s State) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()

		return
	}

	t.state = s
	subs := append([]func(State){}, t.subscribers...)
	t.mu.Unlock()

	for _, sub := range subs {
		sub(s)
	}
}

// Subscribe registers an observer called on every state transition.
func (t *Tap) Subscribe(observer func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribers = append(t.subscribers, observer)
}
