package descriptor

import (
	"strings"
)

// FindMessage resolves a message by fully qualified name (a leading dot is
// allowed) or by a name relative to any package in the set. A relative name
// that matches declarations in several packages is an *AmbiguousError.
func (s *Set) FindMessage(name string) (*MessageDescriptor, error) {
	return lookup(s, "message", s.messages, name)
}

// FindEnum resolves an enum the same way FindMessage resolves messages.
func (s *Set) FindEnum(name string) (*EnumDescriptor, error) {
	return lookup(s, "enum", s.enums, name)
}

// FindService resolves a service the same way FindMessage resolves messages.
func (s *Set) FindService(name string) (*ServiceDescriptor, error) {
	return lookup(s, "service", s.services, name)
}

// FindMessageFrom resolves name the way protoc resolves a type reference
// written inside scope: scope.name first, then each enclosing scope
// outward, then the root. The first match wins.
func (s *Set) FindMessageFrom(scope, name string) (*MessageDescriptor, error) {
	if strings.HasPrefix(name, ".") {
		return s.FindMessage(name)
	}
	scope = strings.TrimPrefix(scope, ".")
	for {
		candidate := name
		if scope != "" {
			candidate = scope + "." + name
		}
		if m, ok := s.messages[candidate]; ok {
			return m, nil
		}
		if scope == "" {
			return nil, &NotFoundError{Kind: "message", Name: name}
		}
		if i := strings.LastIndexByte(scope, '.'); i >= 0 {
			scope = scope[:i]
		} else {
			scope = ""
		}
	}
}

// FindMethod resolves a method. Accepted spellings are the gRPC path
// "/pkg.Service/Method", "pkg.Service/Method" and "pkg.Service.Method";
// the service part may be package-relative.
func (s *Set) FindMethod(name string) (*MethodDescriptor, error) {
	trimmed := strings.TrimPrefix(name, "/")
	sep := strings.LastIndexByte(trimmed, '/')
	if sep < 0 {
		sep = strings.LastIndexByte(trimmed, '.')
	}
	if sep <= 0 || sep == len(trimmed)-1 {
		return nil, &NotFoundError{Kind: "method", Name: name}
	}

	svc, err := s.FindService(trimmed[:sep])
	if err != nil {
		if _, ok := err.(*AmbiguousError); ok {
			return nil, err
		}
		return nil, &NotFoundError{Kind: "method", Name: name}
	}
	m := svc.Method(trimmed[sep+1:])
	if m == nil {
		return nil, &NotFoundError{Kind: "method", Name: name}
	}
	return m, nil
}

func lookup[T any](s *Set, kind string, table map[string]T, name string) (T, error) {
	var zero T
	name = strings.TrimPrefix(name, ".")
	if name == "" {
		return zero, &NotFoundError{Kind: kind, Name: name}
	}
	if d, ok := table[name]; ok {
		return d, nil
	}

	var (
		found      T
		candidates []string
	)
	for _, scope := range s.scopes {
		full := scope + "." + name
		if d, ok := table[full]; ok {
			found = d
			candidates = append(candidates, full)
		}
	}
	switch len(candidates) {
	case 0:
		return zero, &NotFoundError{Kind: kind, Name: name}
	case 1:
		return found, nil
	default:
		return zero, &AmbiguousError{Kind: kind, Name: name, Candidates: candidates}
	}
}
