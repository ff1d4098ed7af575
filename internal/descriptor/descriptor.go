package descriptor

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MessageDescriptor describes one message type. It is owned by a Set and
// never changes after the Set is built.
type MessageDescriptor struct {
	fullName     string
	name         string
	file         string
	validateUTF8 bool
	mapEntry     bool

	fields   []*FieldDescriptor
	byNumber []*FieldDescriptor
	byName   map[string]*FieldDescriptor
	byJSON   map[string]*FieldDescriptor
	oneofs   map[string][]*FieldDescriptor

	proto protoreflect.MessageDescriptor
}

// FullName returns the fully qualified name without a leading dot.
func (m *MessageDescriptor) FullName() string { return m.fullName }

// Name returns the short name of the message.
func (m *MessageDescriptor) Name() string { return m.name }

// File returns the path of the schema file declaring the message.
func (m *MessageDescriptor) File() string { return m.file }

// Fields returns the fields in declaration order. The slice is shared and
// must not be modified.
func (m *MessageDescriptor) Fields() []*FieldDescriptor { return m.fields }

// FieldsByNumber returns the fields sorted by wire number. The slice is
// shared and must not be modified.
func (m *MessageDescriptor) FieldsByNumber() []*FieldDescriptor { return m.byNumber }

// FieldByName looks a field up by its schema name.
func (m *MessageDescriptor) FieldByName(name string) *FieldDescriptor { return m.byName[name] }

// FieldByJSONName looks a field up by its lowerCamelCase JSON name.
func (m *MessageDescriptor) FieldByJSONName(name string) *FieldDescriptor { return m.byJSON[name] }

// FieldByNumber looks a field up by wire number.
func (m *MessageDescriptor) FieldByNumber(n protowire.Number) *FieldDescriptor {
	// byNumber is sorted; messages are small enough for a linear scan to win
	// over a map in practice.
	for _, f := range m.byNumber {
		if f.number == n {
			return f
		}
		if f.number > n {
			break
		}
	}
	return nil
}

// OneofFields returns the members of the named (non-synthetic) oneof.
func (m *MessageDescriptor) OneofFields(name string) []*FieldDescriptor { return m.oneofs[name] }

// IsMapEntry reports whether this is the synthesized entry type of a map field.
func (m *MessageDescriptor) IsMapEntry() bool { return m.mapEntry }

// ValidatesUTF8 reports whether string fields must hold valid UTF-8.
func (m *MessageDescriptor) ValidatesUTF8() bool { return m.validateUTF8 }

// Proto returns the underlying protobuf runtime descriptor.
func (m *MessageDescriptor) Proto() protoreflect.MessageDescriptor { return m.proto }

func (m *MessageDescriptor) String() string { return m.fullName }

// FieldDescriptor describes one field of a message.
type FieldDescriptor struct {
	name     string
	jsonName string
	fullName string
	number   protowire.Number
	kind     Kind
	card     Cardinality
	packed   bool
	presence bool
	oneof    string
	index    int

	parent  *MessageDescriptor
	message *MessageDescriptor
	enum    *EnumDescriptor

	proto protoreflect.FieldDescriptor
}

func (f *FieldDescriptor) Name() string     { return f.name }
func (f *FieldDescriptor) JSONName() string { return f.jsonName }
func (f *FieldDescriptor) FullName() string { return f.fullName }

// Number returns the wire number of the field.
func (f *FieldDescriptor) Number() protowire.Number { return f.number }

func (f *FieldDescriptor) Kind() Kind               { return f.kind }
func (f *FieldDescriptor) Cardinality() Cardinality { return f.card }
func (f *FieldDescriptor) IsRepeated() bool         { return f.card == Repeated }

// IsPacked reports whether repeated values are encoded as one packed run.
func (f *FieldDescriptor) IsPacked() bool { return f.packed }

// HasPresence reports whether a singular field distinguishes "set to the
// default" from "unset".
func (f *FieldDescriptor) HasPresence() bool { return f.presence }

// Oneof returns the name of the containing oneof, or "" when the field is
// not part of one. Synthetic oneofs of proto3 optional fields are not
// reported.
func (f *FieldDescriptor) Oneof() string { return f.oneof }

// Index returns the position of the field in declaration order.
func (f *FieldDescriptor) Index() int { return f.index }

// Parent returns the message declaring the field.
func (f *FieldDescriptor) Parent() *MessageDescriptor { return f.parent }

// Message returns the referenced message type for message fields.
func (f *FieldDescriptor) Message() *MessageDescriptor { return f.message }

// Enum returns the referenced enum type for enum fields.
func (f *FieldDescriptor) Enum() *EnumDescriptor { return f.enum }

// IsMap reports whether the field is a map, i.e. a repeated field of a
// synthesized entry message.
func (f *FieldDescriptor) IsMap() bool {
	return f.card == Repeated && f.message != nil && f.message.mapEntry
}

// MapKey returns the key field of a map field's entry type.
func (f *FieldDescriptor) MapKey() *FieldDescriptor {
	if !f.IsMap() {
		return nil
	}
	return f.message.FieldByNumber(1)
}

// MapValue returns the value field of a map field's entry type.
func (f *FieldDescriptor) MapValue() *FieldDescriptor {
	if !f.IsMap() {
		return nil
	}
	return f.message.FieldByNumber(2)
}

// Default returns the declared default of a singular scalar field, or the
// zero value of its kind when none is declared.
func (f *FieldDescriptor) Default() protoreflect.Value { return f.proto.Default() }

// Proto returns the underlying protobuf runtime descriptor.
func (f *FieldDescriptor) Proto() protoreflect.FieldDescriptor { return f.proto }

func (f *FieldDescriptor) String() string { return f.fullName }

// EnumValue is one named constant of an enum.
type EnumValue struct {
	Name   string
	Number int32
}

// EnumDescriptor describes an enum type.
type EnumDescriptor struct {
	fullName string
	name     string
	values   []EnumValue
	proto    protoreflect.EnumDescriptor
}

func (e *EnumDescriptor) FullName() string { return e.fullName }
func (e *EnumDescriptor) Name() string     { return e.name }

// Values returns the constants in declaration order. The slice is shared and
// must not be modified.
func (e *EnumDescriptor) Values() []EnumValue { return e.values }

// ValueByName looks a constant up by name.
func (e *EnumDescriptor) ValueByName(name string) (EnumValue, bool) {
	for _, v := range e.values {
		if v.Name == name {
			return v, true
		}
	}
	return EnumValue{}, false
}

// ValueByNumber looks a constant up by number. With aliases the first
// declared name wins.
func (e *EnumDescriptor) ValueByNumber(n int32) (EnumValue, bool) {
	for _, v := range e.values {
		if v.Number == n {
			return v, true
		}
	}
	return EnumValue{}, false
}

func (e *EnumDescriptor) Proto() protoreflect.EnumDescriptor { return e.proto }

// ServiceDescriptor describes a service and its methods.
type ServiceDescriptor struct {
	fullName string
	name     string
	file     string
	methods  []*MethodDescriptor
	proto    protoreflect.ServiceDescriptor
}

func (s *ServiceDescriptor) FullName() string { return s.fullName }
func (s *ServiceDescriptor) Name() string     { return s.name }
func (s *ServiceDescriptor) File() string     { return s.file }

// Methods returns the methods in declaration order. The slice is shared and
// must not be modified.
func (s *ServiceDescriptor) Methods() []*MethodDescriptor { return s.methods }

// Method looks a method up by its short name.
func (s *ServiceDescriptor) Method(name string) *MethodDescriptor {
	for _, m := range s.methods {
		if m.name == name {
			return m
		}
	}
	return nil
}

func (s *ServiceDescriptor) Proto() protoreflect.ServiceDescriptor { return s.proto }

// MethodDescriptor describes one RPC method.
type MethodDescriptor struct {
	name    string
	service *ServiceDescriptor
	input   *MessageDescriptor
	output  *MessageDescriptor
	shape   StreamingShape
	proto   protoreflect.MethodDescriptor
}

func (m *MethodDescriptor) Name() string { return m.name }

// FullName returns "pkg.Service.Method".
func (m *MethodDescriptor) FullName() string { return m.service.fullName + "." + m.name }

// Path returns the gRPC method path "/pkg.Service/Method".
func (m *MethodDescriptor) Path() string { return "/" + m.service.fullName + "/" + m.name }

func (m *MethodDescriptor) Service() *ServiceDescriptor { return m.service }
func (m *MethodDescriptor) Input() *MessageDescriptor   { return m.input }
func (m *MethodDescriptor) Output() *MessageDescriptor  { return m.output }
func (m *MethodDescriptor) Shape() StreamingShape       { return m.shape }

func (m *MethodDescriptor) Proto() protoreflect.MethodDescriptor { return m.proto }

func (m *MethodDescriptor) String() string { return m.Path() }
