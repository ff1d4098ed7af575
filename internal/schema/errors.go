package schema

import (
	"errors"
	"fmt"
)

// Reason classifies a LoadError.
type Reason int

const (
	SyntaxError Reason = iota + 1
	TypeCheckError
	IOError
)

func (r Reason) String() string {
	switch r {
	case SyntaxError:
		return "syntax error"
	case TypeCheckError:
		return "type-check error"
	case IOError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

var (
	ErrSyntax    = errors.New("schema syntax error")
	ErrTypeCheck = errors.New("schema type-check error")
	ErrIO        = errors.New("schema I/O error")
)

// LoadError reports why a schema could not be loaded.
type LoadError struct {
	Reason Reason
	File   string
	Err    error
}

func (e *LoadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Reason, e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool {
	switch target {
	case ErrSyntax:
		return e.Reason == SyntaxError
	case ErrTypeCheck:
		return e.Reason == TypeCheckError
	case ErrIO:
		return e.Reason == IOError
	}
	return false
}
