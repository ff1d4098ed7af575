package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a DecodeError.
type Reason int

const (
	Truncated Reason = iota + 1
	InvalidTag
	TypeMismatch
	LimitExceeded
)

func (r Reason) String() string {
	switch r {
	case Truncated:
		return "truncated"
	case InvalidTag:
		return "invalid tag"
	case TypeMismatch:
		return "type mismatch"
	case LimitExceeded:
		return "limit exceeded"
	default:
		return "decode error"
	}
}

var (
	ErrTruncated     = errors.New("truncated input")
	ErrInvalidTag    = errors.New("invalid tag")
	ErrTypeMismatch  = errors.New("wire type mismatch")
	ErrLimitExceeded = errors.New("decode limit exceeded")
)

// DecodeError reports malformed or hostile wire bytes.
type DecodeError struct {
	Reason  Reason
	Message string // message type being decoded
	Field   string // field name, when the failure is tied to one
	Offset  int    // byte offset into the top-level input
	Err     error
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "decode %s: %s at offset %d", e.Message, e.Reason, e.Offset)
	if e.Field != "" {
		fmt.Fprintf(&sb, " (field %s)", e.Field)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Reason == Truncated
	case ErrInvalidTag:
		return e.Reason == InvalidTag
	case ErrTypeMismatch:
		return e.Reason == TypeMismatch
	case ErrLimitExceeded:
		return e.Reason == LimitExceeded
	}
	return false
}
