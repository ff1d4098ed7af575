package textfmt

import (
	"errors"
	"fmt"
)

// Reason classifies a ParseError.
type Reason int

const (
	Syntax Reason = iota + 1
	UnknownField
	TypeMismatch
)

func (r Reason) String() string {
	switch r {
	case Syntax:
		return "syntax error"
	case UnknownField:
		return "unknown field"
	case TypeMismatch:
		return "type mismatch"
	default:
		return "parse error"
	}
}

var (
	ErrSyntax       = errors.New("malformed text")
	ErrUnknownField = errors.New("unknown field")
	ErrTypeMismatch = errors.New("type mismatch")
)

// ParseError reports text that does not fit the target message. Path
// locates the offending value, e.g. leaves[1].label or counts["a"].
type ParseError struct {
	Reason  Reason
	Message string
	Path    string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse %s: %s: %v", e.Message, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s at %s: %v", e.Message, e.Reason, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrSyntax:
		return e.Reason == Syntax
	case ErrUnknownField:
		return e.Reason == UnknownField
	case ErrTypeMismatch:
		return e.Reason == TypeMismatch
	}
	return false
}
