package event

import "fmt"

// Validator checks that a stream of Events is well-formed: zero or more
// complete messages (MessageStart (Data*) MessageEnd), optionally
// terminated by a single StreamEnd, with nothing after it. It is used by
// tests and by demux/branchMessage message reassembly to detect malformed
// upstream event sequences early rather than downstream as a subtler bug.
type Validator struct {
	inMessage bool
	ended     bool

	MessageStarts int
	MessageEnds   int
}

// NewValidator returns a fresh Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Observe feeds one event through the validator, returning an error the
// first time the sequence becomes ill-formed.
func (v *Validator) Observe(ev Event) error {
	if v.ended {
		return fmt.Errorf("event after StreamEnd: %T", ev)
	}

	switch ev.(type) {
	case *MessageStart:
		if v.inMessage {
			return fmt.Errorf("MessageStart while a message is already open")
		}

		v.inMessage = true
		v.MessageStarts++
	case *Data:
		if !v.inMessage {
			return fmt.Errorf("Data outside of a message")
		}
	case *MessageEnd:
		if !v.inMessage {
			return fmt.Errorf("MessageEnd without a matching MessageStart")
		}

		v.inMessage = false
		v.MessageEnds++
	case *StreamEnd:
		v.ended = true
	default:
		return fmt.Errorf("unknown event type: %T", ev)
	}

	return nil
}

// Balanced reports whether every opened message has been closed.
func (v *Validator) Balanced() bool {
	return v.MessageStarts == v.MessageEnds && !v.inMessage
}

// Ended reports whether a StreamEnd has been observed.
func (v *Validator) Ended() bool {
	return v.ended
}
