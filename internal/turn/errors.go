package turn

import (
	"errors"
	"fmt"
)

// ErrCancelled reports that an interrupt preempted the turn. It is an expected
// outcome and is never surfaced to clients as an error event.
var ErrCancelled = errors.New("turn cancelled")

// ProtocolError is an inbound event that is illegal for the current mode.
// The session state is left unchanged.
type ProtocolError struct {
	Event  string
	Mode   Mode
	Reason string
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Reason != "" && e.Mode != "":
		return fmt.Sprintf("%s not allowed while %s: %s", e.Event, e.Mode, e.Reason)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Event, e.Reason)
	default:
		return fmt.Sprintf("%s not allowed while %s", e.Event, e.Mode)
	}
}

// ValidationError rejects malformed or empty input before any provider runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
