package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Set is a fully linked schema: every message, enum, service and method of
// the root files and of everything they import. A Set is immutable once
// NewSet returns and may be queried from any number of goroutines.
type Set struct {
	files *protoregistry.Files
	types *dynamicpb.Types
	roots []protoreflect.FileDescriptor

	messages map[string]*MessageDescriptor
	enums    map[string]*EnumDescriptor
	services map[string]*ServiceDescriptor

	// rootServices lists services of the root files in declaration order.
	rootServices []*ServiceDescriptor
	// scopes holds every package name and each of its dotted prefixes.
	scopes []string
}

// NewSet indexes the given files and their transitive imports.
func NewSet(files ...protoreflect.FileDescriptor) (*Set, error) {
	s := &Set{
		files:    new(protoregistry.Files),
		messages: make(map[string]*MessageDescriptor),
		enums:    make(map[string]*EnumDescriptor),
		services: make(map[string]*ServiceDescriptor),
	}

	for _, fd := range files {
		if err := s.register(fd); err != nil {
			return nil, err
		}
		s.roots = append(s.roots, fd)
	}

	var all []protoreflect.FileDescriptor
	s.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		all = append(all, fd)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Path() < all[j].Path() })

	// Shells first so that fields can point at any message, including the
	// one they are declared in.
	scopes := make(map[string]struct{})
	for _, fd := range all {
		if pkg := string(fd.Package()); pkg != "" {
			for {
				scopes[pkg] = struct{}{}
				i := strings.LastIndexByte(pkg, '.')
				if i < 0 {
					break
				}
				pkg = pkg[:i]
			}
		}
		s.addEnums(fd.Enums())
		s.addMessages(fd.Path(), fd.Messages())
	}
	for scope := range scopes {
		s.scopes = append(s.scopes, scope)
	}
	sort.Strings(s.scopes)

	for _, m := range s.messages {
		if err := s.fill(m); err != nil {
			return nil, err
		}
	}

	for _, fd := range all {
		svcs := fd.Services()
		for i := 0; i < svcs.Len(); i++ {
			svc, err := s.newService(fd.Path(), svcs.Get(i))
			if err != nil {
				return nil, err
			}
			s.services[svc.fullName] = svc
		}
	}
	for _, fd := range s.roots {
		svcs := fd.Services()
		for i := 0; i < svcs.Len(); i++ {
			s.rootServices = append(s.rootServices, s.services[string(svcs.Get(i).FullName())])
		}
	}

	s.types = dynamicpb.NewTypes(s.files)
	return s, nil
}

// register adds fd and, before it, every file it imports.
func (s *Set) register(fd protoreflect.FileDescriptor) error {
	if fd.IsPlaceholder() {
		return nil
	}
	if _, err := s.files.FindFileByPath(fd.Path()); err == nil {
		return nil
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		if err := s.register(imports.Get(i).FileDescriptor); err != nil {
			return err
		}
	}
	if err := s.files.RegisterFile(fd); err != nil {
		return fmt.Errorf("register %s: %w", fd.Path(), err)
	}
	return nil
}

func (s *Set) addEnums(enums protoreflect.EnumDescriptors) {
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		e := &EnumDescriptor{
			fullName: string(ed.FullName()),
			name:     string(ed.Name()),
			proto:    ed,
		}
		vals := ed.Values()
		for j := 0; j < vals.Len(); j++ {
			v := vals.Get(j)
			e.values = append(e.values, EnumValue{Name: string(v.Name()), Number: int32(v.Number())})
		}
		s.enums[e.fullName] = e
	}
}

func (s *Set) addMessages(file string, msgs protoreflect.MessageDescriptors) {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		s.messages[string(md.FullName())] = &MessageDescriptor{
			fullName:     string(md.FullName()),
			name:         string(md.Name()),
			file:         file,
			validateUTF8: md.ParentFile().Syntax() != protoreflect.Proto2,
			mapEntry:     md.IsMapEntry(),
			proto:        md,
		}
		s.addEnums(md.Enums())
		s.addMessages(file, md.Messages())
	}
}

func (s *Set) fill(m *MessageDescriptor) error {
	fields := m.proto.Fields()
	m.fields = make([]*FieldDescriptor, 0, fields.Len())
	m.byName = make(map[string]*FieldDescriptor, fields.Len())
	m.byJSON = make(map[string]*FieldDescriptor, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		f, err := s.newField(m, fields.Get(i), i)
		if err != nil {
			return err
		}
		m.fields = append(m.fields, f)
		m.byName[f.name] = f
		m.byJSON[f.jsonName] = f
		if f.oneof != "" {
			if m.oneofs == nil {
				m.oneofs = make(map[string][]*FieldDescriptor)
			}
			m.oneofs[f.oneof] = append(m.oneofs[f.oneof], f)
		}
	}
	m.byNumber = append([]*FieldDescriptor(nil), m.fields...)
	sort.Slice(m.byNumber, func(i, j int) bool { return m.byNumber[i].number < m.byNumber[j].number })
	return nil
}

func (s *Set) newField(parent *MessageDescriptor, fd protoreflect.FieldDescriptor, index int) (*FieldDescriptor, error) {
	if fd.Kind() == protoreflect.GroupKind {
		return nil, fmt.Errorf("field %s: group fields are not supported", fd.FullName())
	}
	kind := kindOf(fd.Kind())
	if kind == InvalidKind {
		return nil, fmt.Errorf("field %s: unsupported kind %v", fd.FullName(), fd.Kind())
	}

	f := &FieldDescriptor{
		name:     string(fd.Name()),
		jsonName: fd.JSONName(),
		fullName: string(fd.FullName()),
		number:   fd.Number(),
		kind:     kind,
		packed:   fd.IsPacked(),
		presence: fd.HasPresence(),
		index:    index,
		parent:   parent,
		proto:    fd,
	}
	if fd.Cardinality() == protoreflect.Repeated {
		f.card = Repeated
	}
	if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
		f.oneof = string(od.Name())
	}

	switch kind {
	case MessageKind:
		f.message = s.messages[string(fd.Message().FullName())]
		if f.message == nil {
			return nil, fmt.Errorf("field %s: unresolved message type %s", fd.FullName(), fd.Message().FullName())
		}
	case EnumKind:
		f.enum = s.enums[string(fd.Enum().FullName())]
		if f.enum == nil {
			return nil, fmt.Errorf("field %s: unresolved enum type %s", fd.FullName(), fd.Enum().FullName())
		}
	}
	return f, nil
}

func (s *Set) newService(file string, sd protoreflect.ServiceDescriptor) (*ServiceDescriptor, error) {
	svc := &ServiceDescriptor{
		fullName: string(sd.FullName()),
		name:     string(sd.Name()),
		file:     file,
		proto:    sd,
	}
	methods := sd.Methods()
	for i := 0; i < methods.Len(); i++ {
		md := methods.Get(i)
		in := s.messages[string(md.Input().FullName())]
		out := s.messages[string(md.Output().FullName())]
		if in == nil || out == nil {
			return nil, fmt.Errorf("method %s: unresolved request or response type", md.FullName())
		}
		svc.methods = append(svc.methods, &MethodDescriptor{
			name:    string(md.Name()),
			service: svc,
			input:   in,
			output:  out,
			shape:   shapeOf(md),
			proto:   md,
		})
	}
	return svc, nil
}

// Services returns the services declared in the root files, in declaration
// order. Services of imported files are reachable through FindService.
func (s *Set) Services() []*ServiceDescriptor {
	return append([]*ServiceDescriptor(nil), s.rootServices...)
}

// Messages returns every message type in the set sorted by full name. Map
// entry types are left out.
func (s *Set) Messages() []*MessageDescriptor {
	out := make([]*MessageDescriptor, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.mapEntry {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fullName < out[j].fullName })
	return out
}

// Roots returns the files the set was built from.
func (s *Set) Roots() []protoreflect.FileDescriptor {
	return append([]protoreflect.FileDescriptor(nil), s.roots...)
}

// Files returns the registry holding every file in the set.
func (s *Set) Files() *protoregistry.Files { return s.files }

// Types returns a type resolver over every message, enum and extension in
// the set, for use with the protobuf runtime (protojson, dynamicpb).
func (s *Set) Types() *dynamicpb.Types { return s.types }
