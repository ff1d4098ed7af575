package dynamic

import (
	"errors"
	"fmt"
)

// Reason classifies a FieldError.
type Reason int

const (
	UnknownField Reason = iota + 1
	TypeMismatch
	CardinalityMismatch
)

func (r Reason) String() string {
	switch r {
	case UnknownField:
		return "unknown field"
	case TypeMismatch:
		return "type mismatch"
	case CardinalityMismatch:
		return "cardinality mismatch"
	default:
		return "field error"
	}
}

var (
	ErrUnknownField        = errors.New("unknown field")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrCardinalityMismatch = errors.New("cardinality mismatch")
)

// FieldError reports an access that does not fit the bound descriptor.
type FieldError struct {
	Reason  Reason
	Message string // full name of the message type
	Field   string
	Detail  string
}

func (e *FieldError) Error() string {
	s := fmt.Sprintf("%s: field %q of %s", e.Reason, e.Field, e.Message)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

func (e *FieldError) Is(target error) bool {
	switch target {
	case ErrUnknownField:
		return e.Reason == UnknownField
	case ErrTypeMismatch:
		return e.Reason == TypeMismatch
	case ErrCardinalityMismatch:
		return e.Reason == CardinalityMismatch
	}
	return false
}
