// Package codec encodes dynamic values to the protobuf binary wire format
// and back, and adapts that codec to grpc-go.
package codec

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// Marshal encodes v. Fields are written in ascending number order, so the
// output matches proto.Marshal for messages declared in number order.
func Marshal(v *dynamic.Value) ([]byte, error) {
	if v == nil || v.Descriptor() == nil {
		return nil, errors.New("codec: marshal of untyped value")
	}
	return appendMessage(nil, v), nil
}

func appendMessage(b []byte, v *dynamic.Value) []byte {
	v.Range(func(fd *descriptor.FieldDescriptor, x any) bool {
		b = appendField(b, fd, x)
		return true
	})
	return b
}

func appendField(b []byte, fd *descriptor.FieldDescriptor, x any) []byte {
	num := fd.Number()
	switch {
	case fd.IsMap():
		kfd, vfd := fd.MapKey(), fd.MapValue()
		for _, e := range x.([]*dynamic.Value) {
			// Entries always carry both key and value.
			var entry []byte
			entry = appendTagged(entry, kfd, mustGet(e, kfd))
			entry = appendTagged(entry, vfd, mustGet(e, vfd))
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	case fd.IsRepeated() && fd.IsPacked():
		var run []byte
		dynamic.EachElem(x, func(e any) { run = appendValue(run, fd, e) })
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, run)
	case fd.IsRepeated():
		dynamic.EachElem(x, func(e any) { b = appendTagged(b, fd, e) })
	default:
		b = appendTagged(b, fd, x)
	}
	return b
}

func appendTagged(b []byte, fd *descriptor.FieldDescriptor, x any) []byte {
	b = protowire.AppendTag(b, fd.Number(), fd.Kind().WireType())
	return appendValue(b, fd, x)
}

// appendValue writes one element without its tag.
func appendValue(b []byte, fd *descriptor.FieldDescriptor, x any) []byte {
	switch fd.Kind() {
	case descriptor.Int32Kind:
		return protowire.AppendVarint(b, uint64(int64(x.(int32))))
	case descriptor.Int64Kind:
		return protowire.AppendVarint(b, uint64(x.(int64)))
	case descriptor.Uint32Kind:
		return protowire.AppendVarint(b, uint64(x.(uint32)))
	case descriptor.Uint64Kind:
		return protowire.AppendVarint(b, x.(uint64))
	case descriptor.Sint32Kind:
		return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(x.(int32))))
	case descriptor.Sint64Kind:
		return protowire.AppendVarint(b, protowire.EncodeZigZag(x.(int64)))
	case descriptor.BoolKind:
		return protowire.AppendVarint(b, protowire.EncodeBool(x.(bool)))
	case descriptor.EnumKind:
		return protowire.AppendVarint(b, uint64(int64(x.(dynamic.EnumNumber))))
	case descriptor.Fixed32Kind:
		return protowire.AppendFixed32(b, x.(uint32))
	case descriptor.Sfixed32Kind:
		return protowire.AppendFixed32(b, uint32(x.(int32)))
	case descriptor.FloatKind:
		return protowire.AppendFixed32(b, math.Float32bits(x.(float32)))
	case descriptor.Fixed64Kind:
		return protowire.AppendFixed64(b, x.(uint64))
	case descriptor.Sfixed64Kind:
		return protowire.AppendFixed64(b, uint64(x.(int64)))
	case descriptor.DoubleKind:
		return protowire.AppendFixed64(b, math.Float64bits(x.(float64)))
	case descriptor.StringKind:
		return protowire.AppendString(b, x.(string))
	case descriptor.BytesKind:
		return protowire.AppendBytes(b, x.([]byte))
	case descriptor.MessageKind:
		return protowire.AppendBytes(b, appendMessage(nil, x.(*dynamic.Value)))
	}
	panic("codec: unexpected kind " + fd.Kind().String())
}

func mustGet(v *dynamic.Value, fd *descriptor.FieldDescriptor) any {
	x, err := v.Get(fd.Name())
	if err != nil {
		panic(err)
	}
	return x
}
