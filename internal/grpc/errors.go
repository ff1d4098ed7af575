package grpc

import (
	"errors"
	"fmt"
)

// InvokeReason classifies an InvokeError.
type InvokeReason int

const (
	UnknownMethod InvokeReason = iota + 1
	WrongShape
	BadRequest
)

func (r InvokeReason) String() string {
	switch r {
	case UnknownMethod:
		return "unknown method"
	case WrongShape:
		return "wrong streaming shape"
	case BadRequest:
		return "bad request"
	default:
		return "invoke error"
	}
}

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrWrongShape    = errors.New("wrong streaming shape")
	ErrBadRequest    = errors.New("bad request")
)

// InvokeError is returned before anything reaches the transport. Failures
// reported by the peer or the transport are grpc status errors instead.
type InvokeError struct {
	Reason InvokeReason
	Method string
	Err    error
}

func (e *InvokeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Method, e.Reason, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

func (e *InvokeError) Is(target error) bool {
	switch target {
	case ErrUnknownMethod:
		return e.Reason == UnknownMethod
	case ErrWrongShape:
		return e.Reason == WrongShape
	case ErrBadRequest:
		return e.Reason == BadRequest
	}
	return false
}
