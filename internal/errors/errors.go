package errors

import "errors"

// Sentinel errors for process-level failures.
var (
	ErrConnectionFailed      = errors.New("connection failed")
	ErrReflectionUnavailable = errors.New("reflection not available")
	ErrNoSchema              = errors.New("no schema source given")
	ErrInvalidDescriptor     = errors.New("invalid descriptor")
	ErrTimeout               = errors.New("operation timed out")
)

// ValidationError represents a bad flag or argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
