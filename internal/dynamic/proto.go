package dynamic

import (
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/shhac/dynrpc/internal/descriptor"
)

// ToProto copies v into a dynamicpb message, for use with the protobuf
// runtime (protojson, prototext, proto.Equal).
func (v *Value) ToProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(v.desc.Proto())
	v.Range(func(fd *descriptor.FieldDescriptor, x any) bool {
		pfd := fd.Proto()
		switch {
		case fd.IsMap():
			mp := m.Mutable(pfd).Map()
			kfd, vfd := fd.MapKey(), fd.MapValue()
			for _, e := range x.([]*Value) {
				mp.Set(protoValue(e.get(kfd)).MapKey(), protoValue(e.get(vfd)))
			}
		case fd.IsRepeated():
			l := m.Mutable(pfd).List()
			EachElem(x, func(e any) { l.Append(protoValue(e)) })
		default:
			m.Set(pfd, protoValue(x))
		}
		return true
	})
	return m
}

func protoValue(x any) protoreflect.Value {
	switch x := x.(type) {
	case int32:
		return protoreflect.ValueOfInt32(x)
	case int64:
		return protoreflect.ValueOfInt64(x)
	case uint32:
		return protoreflect.ValueOfUint32(x)
	case uint64:
		return protoreflect.ValueOfUint64(x)
	case bool:
		return protoreflect.ValueOfBool(x)
	case string:
		return protoreflect.ValueOfString(x)
	case []byte:
		return protoreflect.ValueOfBytes(x)
	case float32:
		return protoreflect.ValueOfFloat32(x)
	case float64:
		return protoreflect.ValueOfFloat64(x)
	case EnumNumber:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(x))
	case *Value:
		return protoreflect.ValueOfMessage(x.ToProto())
	}
	panic(fmt.Sprintf("dynamic: unexpected value type %T", x))
}

// EachElem calls f for each element of a list-valued field.
func EachElem(list any, f func(any)) {
	switch s := list.(type) {
	case []int32:
		for _, e := range s {
			f(e)
		}
	case []int64:
		for _, e := range s {
			f(e)
		}
	case []uint32:
		for _, e := range s {
			f(e)
		}
	case []uint64:
		for _, e := range s {
			f(e)
		}
	case []bool:
		for _, e := range s {
			f(e)
		}
	case []string:
		for _, e := range s {
			f(e)
		}
	case [][]byte:
		for _, e := range s {
			f(e)
		}
	case []float32:
		for _, e := range s {
			f(e)
		}
	case []float64:
		for _, e := range s {
			f(e)
		}
	case []EnumNumber:
		for _, e := range s {
			f(e)
		}
	case []*Value:
		for _, e := range s {
			f(e)
		}
	}
}

// FromProto copies a protobuf runtime message of type md into a new Value.
// Unknown fields and extensions are dropped.
func FromProto(md *descriptor.MessageDescriptor, m protoreflect.Message) (*Value, error) {
	if got := m.Descriptor().FullName(); string(got) != md.FullName() {
		return nil, fmt.Errorf("message type %s does not match %s", got, md.FullName())
	}
	v := New(md)
	var err error
	m.Range(func(pfd protoreflect.FieldDescriptor, pv protoreflect.Value) bool {
		if pfd.IsExtension() {
			return true
		}
		fd := md.FieldByNumber(pfd.Number())
		if fd == nil {
			return true
		}
		switch {
		case fd.IsMap():
			kfd, vfd := fd.MapKey(), fd.MapValue()
			pv.Map().Range(func(k protoreflect.MapKey, val protoreflect.Value) bool {
				entry := New(fd.Message())
				var kx, vx any
				if kx, err = fromProtoValue(kfd, k.Value()); err != nil {
					return false
				}
				if vx, err = fromProtoValue(vfd, val); err != nil {
					return false
				}
				entry.store(kfd, kx)
				entry.store(vfd, vx)
				v.putEntry(fd, entry)
				return true
			})
		case fd.IsRepeated():
			l := pv.List()
			var list any
			for i := 0; i < l.Len(); i++ {
				var x any
				if x, err = fromProtoValue(fd, l.Get(i)); err != nil {
					break
				}
				list = appendElem(list, x)
			}
			v.fields[fd.Index()] = list
		default:
			var x any
			if x, err = fromProtoValue(fd, pv); err == nil {
				v.store(fd, x)
			}
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func fromProtoValue(fd *descriptor.FieldDescriptor, pv protoreflect.Value) (any, error) {
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		return int32(pv.Int()), nil
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		return pv.Int(), nil
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		return uint32(pv.Uint()), nil
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		return pv.Uint(), nil
	case descriptor.BoolKind:
		return pv.Bool(), nil
	case descriptor.StringKind:
		return pv.String(), nil
	case descriptor.BytesKind:
		return append([]byte{}, pv.Bytes()...), nil
	case descriptor.FloatKind:
		return float32(pv.Float()), nil
	case descriptor.DoubleKind:
		return pv.Float(), nil
	case descriptor.EnumKind:
		return EnumNumber(pv.Enum()), nil
	case descriptor.MessageKind:
		return FromProto(fd.Message(), pv.Message())
	}
	return nil, fmt.Errorf("field %s: unsupported kind %s", fd.FullName(), fd.Kind())
}

func format(v *Value) string {
	return prototext.MarshalOptions{}.Format(v.ToProto())
}
