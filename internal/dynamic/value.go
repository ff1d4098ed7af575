// Package dynamic holds message values whose shape is only known at runtime.
//
// A Value is bound to one descriptor.MessageDescriptor and checks every
// mutation against it. Field values use a closed set of Go types:
//
//	int32, sint32, sfixed32    int32
//	int64, sint64, sfixed64    int64
//	uint32, fixed32            uint32
//	uint64, fixed64            uint64
//	bool, string, bytes        bool, string, []byte
//	float, double              float32, float64
//	enum                       EnumNumber
//	message                    *Value
//	repeated T                 []T
//
// Map fields are repeated fields of their entry message, so their values
// are []*Value holding entries with unique keys. Nothing is coerced: an int
// is not an int32.
//
// A Value is not safe for concurrent mutation.
package dynamic

import (
	"fmt"

	"github.com/shhac/dynrpc/internal/descriptor"
)

// EnumNumber is the value of an enum field.
type EnumNumber int32

// Value is a message instance bound to a descriptor.
type Value struct {
	desc *descriptor.MessageDescriptor
	// fields is indexed by FieldDescriptor.Index; nil means unset.
	fields []any
}

// New returns a zero-valued instance of md.
func New(md *descriptor.MessageDescriptor) *Value {
	return &Value{desc: md, fields: make([]any, len(md.Fields()))}
}

// Descriptor returns the message type the value is bound to.
func (v *Value) Descriptor() *descriptor.MessageDescriptor { return v.desc }

func (v *Value) lookup(name string) (*descriptor.FieldDescriptor, error) {
	fd := v.desc.FieldByName(name)
	if fd == nil {
		return nil, &FieldError{Reason: UnknownField, Message: v.desc.FullName(), Field: name}
	}
	return fd, nil
}

// Set assigns x to the named field. On error v is left unchanged.
//
// Setting a oneof member clears the other members. Setting a field without
// presence to its zero value clears it. nil clears message and repeated
// fields. Nested values are deep-copied, so later changes to x do not show
// through v.
func (v *Value) Set(name string, x any) error {
	fd, err := v.lookup(name)
	if err != nil {
		return err
	}
	return v.set(fd, x)
}

func (v *Value) set(fd *descriptor.FieldDescriptor, x any) error {
	if fd.IsRepeated() {
		if x == nil {
			v.fields[fd.Index()] = nil
			return nil
		}
		if !isList(x) {
			return v.mismatch(fd, CardinalityMismatch, "repeated field needs a slice, got %T", x)
		}
		list, err := v.convertList(fd, x)
		if err != nil {
			return err
		}
		if fd.IsMap() {
			list = dedupeEntries(fd, list.([]*Value))
		}
		if listLen(list) == 0 {
			list = nil
		}
		v.fields[fd.Index()] = list
		return nil
	}

	if isList(x) {
		return v.mismatch(fd, CardinalityMismatch, "singular field given %T", x)
	}
	if fd.Kind() == descriptor.MessageKind {
		if mv, ok := x.(*Value); x == nil || (ok && mv == nil) {
			v.fields[fd.Index()] = nil
			return nil
		}
	}
	conv, err := v.convertScalar(fd, x)
	if err != nil {
		return err
	}
	v.store(fd, conv)
	return nil
}

// store assigns an already checked value.
func (v *Value) store(fd *descriptor.FieldDescriptor, x any) {
	if name := fd.Oneof(); name != "" {
		for _, sib := range v.desc.OneofFields(name) {
			v.fields[sib.Index()] = nil
		}
	}
	if !fd.HasPresence() && isZero(x) {
		v.fields[fd.Index()] = nil
		return
	}
	v.fields[fd.Index()] = x
}

// Get returns the named field, or its default when unset: the declared
// default or zero value for scalars, a nil *Value for messages and a nil
// slice for repeated fields. Slices are returned as copies; nested *Values
// are returned by reference.
func (v *Value) Get(name string) (any, error) {
	fd, err := v.lookup(name)
	if err != nil {
		return nil, err
	}
	return cloneShallow(v.get(fd)), nil
}

// get returns the stored value or the default, without copying.
func (v *Value) get(fd *descriptor.FieldDescriptor) any {
	if x := v.fields[fd.Index()]; x != nil {
		return x
	}
	return defaultOf(fd)
}

// Has reports whether the named field is set. Repeated fields are set when
// they hold at least one element.
func (v *Value) Has(name string) (bool, error) {
	fd, err := v.lookup(name)
	if err != nil {
		return false, err
	}
	return v.fields[fd.Index()] != nil, nil
}

// Clear unsets the named field.
func (v *Value) Clear(name string) error {
	fd, err := v.lookup(name)
	if err != nil {
		return err
	}
	v.fields[fd.Index()] = nil
	return nil
}

// Append adds one element to a repeated field. For map fields the element is
// an entry *Value and replaces any entry with the same key.
func (v *Value) Append(name string, elem any) error {
	fd, err := v.lookup(name)
	if err != nil {
		return err
	}
	if !fd.IsRepeated() {
		return v.mismatch(fd, CardinalityMismatch, "cannot append to a singular field")
	}
	if isList(elem) {
		return v.mismatch(fd, CardinalityMismatch, "append takes one element, got %T", elem)
	}
	if fd.Kind() == descriptor.MessageKind {
		if mv, ok := elem.(*Value); elem == nil || (ok && mv == nil) {
			return v.mismatch(fd, TypeMismatch, "nil element")
		}
	}
	conv, err := v.convertScalar(fd, elem)
	if err != nil {
		return err
	}
	if fd.IsMap() {
		v.putEntry(fd, conv.(*Value))
		return nil
	}
	v.fields[fd.Index()] = appendElem(v.fields[fd.Index()], conv)
	return nil
}

// PutMapEntry sets key to val in a map field. A nil val for a message-valued
// map stores an empty message.
func (v *Value) PutMapEntry(name string, key, val any) error {
	fd, err := v.lookup(name)
	if err != nil {
		return err
	}
	if !fd.IsMap() {
		return v.mismatch(fd, TypeMismatch, "not a map field")
	}
	kfd, vfd := fd.MapKey(), fd.MapValue()
	entry := New(fd.Message())
	if err := entry.set(kfd, key); err != nil {
		return v.mismatch(fd, TypeMismatch, "map key: %v", err)
	}
	if vfd.Kind() == descriptor.MessageKind && val == nil {
		val = New(vfd.Message())
	}
	if err := entry.set(vfd, val); err != nil {
		return v.mismatch(fd, TypeMismatch, "map value: %v", err)
	}
	v.putEntry(fd, entry)
	return nil
}

func (v *Value) putEntry(fd *descriptor.FieldDescriptor, entry *Value) {
	fillEntry(fd, entry)
	kfd := fd.MapKey()
	key := entry.get(kfd)
	list, _ := v.fields[fd.Index()].([]*Value)
	for i, e := range list {
		if e.get(kfd) == key {
			list[i] = entry
			return
		}
	}
	v.fields[fd.Index()] = append(list, entry)
}

// AppendNew adds an empty message to a repeated message field and returns
// it for filling in place.
func (v *Value) AppendNew(name string) (*Value, error) {
	fd, err := v.lookup(name)
	if err != nil {
		return nil, err
	}
	if !fd.IsRepeated() || fd.IsMap() {
		return nil, v.mismatch(fd, CardinalityMismatch, "not a repeated message field")
	}
	if fd.Kind() != descriptor.MessageKind {
		return nil, v.mismatch(fd, TypeMismatch, "%s field has no nested value", fd.Kind())
	}
	mv := New(fd.Message())
	list, _ := v.fields[fd.Index()].([]*Value)
	v.fields[fd.Index()] = append(list, mv)
	return mv, nil
}

// Mutable returns the nested message stored in a singular message field,
// creating an empty one first when the field is unset.
func (v *Value) Mutable(name string) (*Value, error) {
	fd, err := v.lookup(name)
	if err != nil {
		return nil, err
	}
	if fd.IsRepeated() {
		return nil, v.mismatch(fd, CardinalityMismatch, "repeated field has no single nested value")
	}
	if fd.Kind() != descriptor.MessageKind {
		return nil, v.mismatch(fd, TypeMismatch, "%s field has no nested value", fd.Kind())
	}
	if mv, ok := v.fields[fd.Index()].(*Value); ok {
		return mv, nil
	}
	mv := New(fd.Message())
	v.store(fd, mv)
	return mv, nil
}

// Range calls f for every set field in field-number order until f returns
// false. The values passed to f are the stored ones and must not be modified.
func (v *Value) Range(f func(fd *descriptor.FieldDescriptor, x any) bool) {
	for _, fd := range v.desc.FieldsByNumber() {
		x := v.fields[fd.Index()]
		if x == nil {
			continue
		}
		if !f(fd, x) {
			return
		}
	}
}

// Clone returns a deep copy of v.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := &Value{desc: v.desc, fields: make([]any, len(v.fields))}
	for i, x := range v.fields {
		if x != nil {
			c.fields[i] = cloneDeep(x)
		}
	}
	return c
}

// String returns a compact text rendering for logs.
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	return format(v)
}

func (v *Value) mismatch(fd *descriptor.FieldDescriptor, r Reason, format string, args ...any) *FieldError {
	return &FieldError{
		Reason:  r,
		Message: v.desc.FullName(),
		Field:   fd.Name(),
		Detail:  fmt.Sprintf(format, args...),
	}
}

// dedupeEntries keeps one entry per key. A later entry replaces an earlier
// one in place.
func dedupeEntries(fd *descriptor.FieldDescriptor, entries []*Value) []*Value {
	kfd := fd.MapKey()
	seen := make(map[any]int, len(entries))
	out := entries[:0]
	for _, e := range entries {
		fillEntry(fd, e)
		k := e.get(kfd)
		if i, ok := seen[k]; ok {
			out[i] = e
			continue
		}
		seen[k] = len(out)
		out = append(out, e)
	}
	return out
}

// fillEntry gives a message-valued map entry an empty value when it has
// none, since an absent map value reads as the empty message.
func fillEntry(fd *descriptor.FieldDescriptor, e *Value) {
	vfd := fd.MapValue()
	if vfd.Kind() == descriptor.MessageKind && e.fields[vfd.Index()] == nil {
		e.fields[vfd.Index()] = New(vfd.Message())
	}
}
