package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound matches every failed lookup, ambiguous ones included.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous matches lookups of a relative name that resolved to more
	// than one declaration.
	ErrAmbiguous = errors.New("ambiguous name")
)

// NotFoundError reports a name that no declaration in the set matches.
type NotFoundError struct {
	Kind string // "message", "enum", "service" or "method"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AmbiguousError reports a relative name matching several declarations.
type AmbiguousError struct {
	Kind       string
	Name       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s %q is ambiguous: could be %s", e.Kind, e.Name, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous || target == ErrNotFound
}
