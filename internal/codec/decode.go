package codec

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

const (
	DefaultMaxDepth = 100
	DefaultMaxBytes = 4 << 20
)

// UnmarshalOptions bounds the work a single decode may do. Zero fields take
// the defaults.
type UnmarshalOptions struct {
	MaxDepth int // nesting depth of embedded messages
	MaxBytes int // size of the top-level input
}

func (o UnmarshalOptions) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

func (o UnmarshalOptions) maxBytes() int {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxBytes
}

// Unmarshal decodes b as a message of type md using default limits.
func Unmarshal(b []byte, md *descriptor.MessageDescriptor) (*dynamic.Value, error) {
	return UnmarshalOptions{}.Unmarshal(b, md)
}

// Unmarshal decodes all of b as a message of type md. Unknown fields are
// skipped. Repeated scalars are accepted packed or unpacked, a repeated
// singular field keeps its last value and repeated embedded messages merge.
// On error no value is returned.
func (o UnmarshalOptions) Unmarshal(b []byte, md *descriptor.MessageDescriptor) (*dynamic.Value, error) {
	if len(b) > o.maxBytes() {
		return nil, &DecodeError{
			Reason:  LimitExceeded,
			Message: md.FullName(),
			Err:     fmt.Errorf("%d bytes exceeds limit of %d", len(b), o.maxBytes()),
		}
	}
	v := dynamic.New(md)
	d := decoder{maxDepth: o.maxDepth()}
	if err := d.message(b, 0, v, 1); err != nil {
		return nil, err
	}
	return v, nil
}

type decoder struct {
	maxDepth int
}

// message decodes b into v. off is the position of b in the top-level input.
func (d *decoder) message(b []byte, off int, v *dynamic.Value, depth int) error {
	md := v.Descriptor()
	if depth > d.maxDepth {
		return &DecodeError{
			Reason:  LimitExceeded,
			Message: md.FullName(),
			Offset:  off,
			Err:     fmt.Errorf("nesting deeper than %d", d.maxDepth),
		}
	}
	for pos := 0; pos < len(b); {
		num, typ, n := protowire.ConsumeTag(b[pos:])
		if n < 0 {
			return wireError(n, md, "", off+pos)
		}
		if typ > protowire.Fixed32Type {
			return &DecodeError{
				Reason:  InvalidTag,
				Message: md.FullName(),
				Offset:  off + pos,
				Err:     fmt.Errorf("reserved wire type %d", typ),
			}
		}
		pos += n

		fd := md.FieldByNumber(num)
		if fd == nil {
			m := protowire.ConsumeFieldValue(num, typ, b[pos:])
			if m < 0 {
				return wireError(m, md, "", off+pos)
			}
			pos += m
			continue
		}
		m, err := d.field(b[pos:], off+pos, v, fd, typ, depth)
		if err != nil {
			return err
		}
		pos += m
	}
	return nil
}

func (d *decoder) field(b []byte, off int, v *dynamic.Value, fd *descriptor.FieldDescriptor, typ protowire.Type, depth int) (int, error) {
	md := v.Descriptor()
	kind := fd.Kind()

	if fd.IsRepeated() && kind.IsPackable() && typ == protowire.BytesType {
		run, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, wireError(n, md, fd.Name(), off)
		}
		start := off + n - len(run)
		for p := 0; p < len(run); {
			x, m := consumeScalar(run[p:], kind)
			if m < 0 {
				return 0, wireError(m, md, fd.Name(), start+p)
			}
			if err := v.Append(fd.Name(), x); err != nil {
				return 0, mismatch(md, fd, start+p, err)
			}
			p += m
		}
		return n, nil
	}
	if typ != kind.WireType() {
		return 0, mismatch(md, fd, off, fmt.Errorf("wire type %d for %s field", typ, kind))
	}

	if kind != descriptor.MessageKind {
		x, n := consumeScalar(b, kind)
		if n < 0 {
			return 0, wireError(n, md, fd.Name(), off)
		}
		var err error
		if fd.IsRepeated() {
			err = v.Append(fd.Name(), x)
		} else {
			err = v.Set(fd.Name(), x)
		}
		if err != nil {
			return 0, mismatch(md, fd, off, err)
		}
		return n, nil
	}

	payload, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, wireError(n, md, fd.Name(), off)
	}
	start := off + n - len(payload)
	var child *dynamic.Value
	switch {
	case fd.IsMap():
		child = dynamic.New(fd.Message())
	case fd.IsRepeated():
		child, _ = v.AppendNew(fd.Name())
	default:
		child, _ = v.Mutable(fd.Name())
	}
	if err := d.message(payload, start, child, depth+1); err != nil {
		return 0, err
	}
	if fd.IsMap() {
		if err := v.Append(fd.Name(), child); err != nil {
			return 0, mismatch(md, fd, off, err)
		}
	}
	return n, nil
}

// consumeScalar reads one non-message value. n is negative on failure, as
// with the protowire Consume functions.
func consumeScalar(b []byte, kind descriptor.Kind) (any, int) {
	switch kind.WireType() {
	case protowire.VarintType:
		u, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, n
		}
		switch kind {
		case descriptor.Int32Kind:
			return int32(u), n
		case descriptor.Int64Kind:
			return int64(u), n
		case descriptor.Uint32Kind:
			return uint32(u), n
		case descriptor.Uint64Kind:
			return u, n
		case descriptor.Sint32Kind:
			return int32(protowire.DecodeZigZag(u & math.MaxUint32)), n
		case descriptor.Sint64Kind:
			return protowire.DecodeZigZag(u), n
		case descriptor.BoolKind:
			return protowire.DecodeBool(u), n
		case descriptor.EnumKind:
			return dynamic.EnumNumber(int32(u)), n
		}
	case protowire.Fixed32Type:
		u, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, n
		}
		switch kind {
		case descriptor.Fixed32Kind:
			return u, n
		case descriptor.Sfixed32Kind:
			return int32(u), n
		case descriptor.FloatKind:
			return math.Float32frombits(u), n
		}
	case protowire.Fixed64Type:
		u, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, n
		}
		switch kind {
		case descriptor.Fixed64Kind:
			return u, n
		case descriptor.Sfixed64Kind:
			return int64(u), n
		case descriptor.DoubleKind:
			return math.Float64frombits(u), n
		}
	case protowire.BytesType:
		if kind == descriptor.StringKind {
			s, n := protowire.ConsumeString(b)
			return s, n
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, n
		}
		return append([]byte{}, raw...), n
	}
	panic("codec: unexpected kind " + kind.String())
}

func wireError(n int, md *descriptor.MessageDescriptor, field string, off int) error {
	err := protowire.ParseError(n)
	reason := InvalidTag
	if errors.Is(err, io.ErrUnexpectedEOF) {
		reason = Truncated
	}
	return &DecodeError{Reason: reason, Message: md.FullName(), Field: field, Offset: off, Err: err}
}

func mismatch(md *descriptor.MessageDescriptor, fd *descriptor.FieldDescriptor, off int, err error) error {
	return &DecodeError{Reason: TypeMismatch, Message: md.FullName(), Field: fd.Name(), Offset: off, Err: err}
}
