package wire

import "fmt"

// ProtocolError represents a dedup-protocol-level failure.
type ProtocolError struct {
	Code   int32
	Reason string
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(code int32, reason string) *ProtocolError {
	return &ProtocolError{Code: code, Reason: reason}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("metadedup protocol error %d: %s", e.Code, e.Reason)
}

// ErrUnknownIndicator is returned when a connection handler reads an
// indicator value it does not recognize for the current channel/phase.
func ErrUnknownIndicator(indicator int32) *ProtocolError {
	return NewProtocolError(indicator, fmt.Sprintf("unexpected frame indicator %d", indicator))
}

// ErrMetaBufferOverflow is returned when a client's metadata batch would
// exceed the server's internal metadata buffer limit.
func ErrMetaBufferOverflow(size, limit int) *ProtocolError {
	return NewProtocolError(0, fmt.Sprintf("metadata batch of %d bytes exceeds limit %d", size, limit))
}
