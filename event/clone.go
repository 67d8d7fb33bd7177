package event

// Clone returns a shallow copy of ev: a new top-level struct, but with Data
// chunk byte slices and MessageStart/MessageEnd metadata maps shared with
// the original (matching the original's reference-counted chunk sharing —
// chunk bytes are treated as immutable once emitted). Used by fork and
// replay to fan the same logical event out to multiple sub-pipelines
// without one branch's downstream mutation of its own event struct
// affecting another's.
func Clone(ev Event) Event {
	switch e := ev.(type) {
	case *MessageStart:
		cp := *e

		return &cp
	case *Data:
		chunks := make([][]byte, len(e.chunks))
		copy(chunks, e.chunks)

		return &Data{chunks: chunks}
	case *MessageEnd:
		cp := *e

		return &cp
	case *StreamEnd:
		cp := *e

		return &cp
	default:
		return ev
	}
}
