package remoteproto

import "fmt"

// Error is a remoteproto-level protocol error, distinct from a
// registry.Error: it names a failure in the envelope/transport layer
// itself (bad signature, version mismatch, clock skew) rather than in the
// registry operation the envelope was carrying.
type Error struct {
	Code   uint16
	Reason string
}

// NewError constructs a protocol Error.
func NewError(code uint16, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return fmt.Sprintf("remoteproto: error %d: %s", e.Code, e.Reason)
}
