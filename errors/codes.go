package errors

// Sentinel errors for the stream-end taxonomy (see event.ErrorKind). Each
// joint filter that raises a fault clones one of these with AddMeta rather
// than inventing ad-hoc messages, so logs and tests can match on identity
// via errors.Is-style Code comparison.
var (
	ErrReadError          = New(1000, "read error")
	ErrWriteError         = New(1001, "write error")
	ErrCannotResolve      = New(1002, "cannot resolve")
	ErrConnectionRefused  = New(1003, "connection refused")
	ErrConnectionReset    = New(1004, "connection reset")
	ErrConnectionTimeout  = New(1005, "connection timeout")
	ErrReadTimeout        = New(1006, "read timeout")
	ErrWriteTimeout       = New(1007, "write timeout")
	ErrUnauthorized       = New(1008, "unauthorized")
	ErrBufferOverflow     = New(1009, "buffer overflow")
	ErrProtocolError      = New(1010, "protocol error")
	ErrReplay             = New(1011, "replay requested")
	ErrCancelled          = New(1012, "cancelled")
	ErrRuntime            = New(1013, "runtime error")
	ErrConfigUnresolved   = New(1014, "unresolved sub-pipeline reference")
	ErrReplaceInvalidType = New(1015, "replace callback returned a non-event value")
)

// Clone returns a copy of e so callers can attach their own AddMeta entries
// without mutating the shared sentinel.
func (e *Error) Clone() *Error {
	meta := make(map[string]string, len(e.Meta))
	for k, v := range e.Meta {
		meta[k] = v
	}

	return &Error{Code: e.Code, Message: e.Message, Meta: meta}
}
