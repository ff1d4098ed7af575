package dynamic

import (
	"bytes"
	"math"
	"reflect"
	"slices"
	"unicode/utf8"

	"github.com/shhac/dynrpc/internal/descriptor"
)

// convertScalar checks one element against the field kind and returns the
// copy to store.
func (v *Value) convertScalar(fd *descriptor.FieldDescriptor, x any) (any, error) {
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		if y, ok := x.(int32); ok {
			return y, nil
		}
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		if y, ok := x.(int64); ok {
			return y, nil
		}
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		if y, ok := x.(uint32); ok {
			return y, nil
		}
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		if y, ok := x.(uint64); ok {
			return y, nil
		}
	case descriptor.BoolKind:
		if y, ok := x.(bool); ok {
			return y, nil
		}
	case descriptor.StringKind:
		if y, ok := x.(string); ok {
			if v.desc.ValidatesUTF8() && !utf8.ValidString(y) {
				return nil, v.mismatch(fd, TypeMismatch, "string is not valid UTF-8")
			}
			return y, nil
		}
	case descriptor.BytesKind:
		if y, ok := x.([]byte); ok {
			if y == nil {
				return []byte{}, nil
			}
			return bytes.Clone(y), nil
		}
	case descriptor.FloatKind:
		if y, ok := x.(float32); ok {
			return y, nil
		}
	case descriptor.DoubleKind:
		if y, ok := x.(float64); ok {
			return y, nil
		}
	case descriptor.EnumKind:
		if y, ok := x.(EnumNumber); ok {
			return y, nil
		}
	case descriptor.MessageKind:
		if y, ok := x.(*Value); ok && y != nil {
			if !sameType(y.desc, fd.Message()) {
				return nil, v.mismatch(fd, TypeMismatch, "want %s, got %s", fd.Message().FullName(), y.desc.FullName())
			}
			return y.Clone(), nil
		}
	}
	return nil, v.mismatch(fd, TypeMismatch, "want %s, got %T", goType(fd), x)
}

// convertList checks a whole slice against a repeated field.
func (v *Value) convertList(fd *descriptor.FieldDescriptor, x any) (any, error) {
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		if s, ok := x.([]int32); ok {
			return slices.Clone(s), nil
		}
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		if s, ok := x.([]int64); ok {
			return slices.Clone(s), nil
		}
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		if s, ok := x.([]uint32); ok {
			return slices.Clone(s), nil
		}
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		if s, ok := x.([]uint64); ok {
			return slices.Clone(s), nil
		}
	case descriptor.BoolKind:
		if s, ok := x.([]bool); ok {
			return slices.Clone(s), nil
		}
	case descriptor.StringKind:
		if s, ok := x.([]string); ok {
			if v.desc.ValidatesUTF8() {
				for i, e := range s {
					if !utf8.ValidString(e) {
						return nil, v.mismatch(fd, TypeMismatch, "element %d is not valid UTF-8", i)
					}
				}
			}
			return slices.Clone(s), nil
		}
	case descriptor.BytesKind:
		if s, ok := x.([][]byte); ok {
			out := make([][]byte, len(s))
			for i, e := range s {
				out[i] = append([]byte{}, e...)
			}
			return out, nil
		}
	case descriptor.FloatKind:
		if s, ok := x.([]float32); ok {
			return slices.Clone(s), nil
		}
	case descriptor.DoubleKind:
		if s, ok := x.([]float64); ok {
			return slices.Clone(s), nil
		}
	case descriptor.EnumKind:
		if s, ok := x.([]EnumNumber); ok {
			return slices.Clone(s), nil
		}
	case descriptor.MessageKind:
		if s, ok := x.([]*Value); ok {
			out := make([]*Value, len(s))
			for i, e := range s {
				if e == nil {
					return nil, v.mismatch(fd, TypeMismatch, "element %d is nil", i)
				}
				if !sameType(e.desc, fd.Message()) {
					return nil, v.mismatch(fd, TypeMismatch, "element %d: want %s, got %s", i, fd.Message().FullName(), e.desc.FullName())
				}
				out[i] = e.Clone()
			}
			return out, nil
		}
	}
	return nil, v.mismatch(fd, TypeMismatch, "want []%s, got %T", goType(fd), x)
}

func sameType(a, b *descriptor.MessageDescriptor) bool {
	return a == b || a.FullName() == b.FullName()
}

// goType names the Go type expected for one element of fd.
func goType(fd *descriptor.FieldDescriptor) string {
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		return "int32"
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		return "int64"
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		return "uint32"
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		return "uint64"
	case descriptor.BoolKind:
		return "bool"
	case descriptor.StringKind:
		return "string"
	case descriptor.BytesKind:
		return "[]byte"
	case descriptor.FloatKind:
		return "float32"
	case descriptor.DoubleKind:
		return "float64"
	case descriptor.EnumKind:
		return "dynamic.EnumNumber"
	case descriptor.MessageKind:
		return "*dynamic.Value(" + fd.Message().FullName() + ")"
	}
	return "invalid"
}

// isList reports whether x is any slice other than []byte, so that a slice
// of the wrong element type is told apart from a singular value.
func isList(x any) bool {
	t := reflect.TypeOf(x)
	return t != nil && t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
}

// listLen returns the length of x when x is one of the repeated value
// types, and -1 otherwise. []byte is a scalar.
func listLen(x any) int {
	switch s := x.(type) {
	case []int32:
		return len(s)
	case []int64:
		return len(s)
	case []uint32:
		return len(s)
	case []uint64:
		return len(s)
	case []bool:
		return len(s)
	case []string:
		return len(s)
	case [][]byte:
		return len(s)
	case []float32:
		return len(s)
	case []float64:
		return len(s)
	case []EnumNumber:
		return len(s)
	case []*Value:
		return len(s)
	}
	return -1
}

// appendElem appends a checked element to a stored list, which may be nil.
func appendElem(list, e any) any {
	switch e := e.(type) {
	case int32:
		s, _ := list.([]int32)
		return append(s, e)
	case int64:
		s, _ := list.([]int64)
		return append(s, e)
	case uint32:
		s, _ := list.([]uint32)
		return append(s, e)
	case uint64:
		s, _ := list.([]uint64)
		return append(s, e)
	case bool:
		s, _ := list.([]bool)
		return append(s, e)
	case string:
		s, _ := list.([]string)
		return append(s, e)
	case []byte:
		s, _ := list.([][]byte)
		return append(s, e)
	case float32:
		s, _ := list.([]float32)
		return append(s, e)
	case float64:
		s, _ := list.([]float64)
		return append(s, e)
	case EnumNumber:
		s, _ := list.([]EnumNumber)
		return append(s, e)
	case *Value:
		s, _ := list.([]*Value)
		return append(s, e)
	}
	panic("dynamic: unexpected element type")
}

// isZero reports whether a scalar is its kind's zero value. Negative zero
// floats are not zero, matching the wire encoding.
func isZero(x any) bool {
	switch x := x.(type) {
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint32:
		return x == 0
	case uint64:
		return x == 0
	case bool:
		return !x
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	case float32:
		return math.Float32bits(x) == 0
	case float64:
		return math.Float64bits(x) == 0
	case EnumNumber:
		return x == 0
	}
	return false
}

// defaultOf returns the value Get reports for an unset field.
func defaultOf(fd *descriptor.FieldDescriptor) any {
	if fd.IsRepeated() {
		switch fd.Kind() {
		case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
			return []int32(nil)
		case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
			return []int64(nil)
		case descriptor.Uint32Kind, descriptor.Fixed32Kind:
			return []uint32(nil)
		case descriptor.Uint64Kind, descriptor.Fixed64Kind:
			return []uint64(nil)
		case descriptor.BoolKind:
			return []bool(nil)
		case descriptor.StringKind:
			return []string(nil)
		case descriptor.BytesKind:
			return [][]byte(nil)
		case descriptor.FloatKind:
			return []float32(nil)
		case descriptor.DoubleKind:
			return []float64(nil)
		case descriptor.EnumKind:
			return []EnumNumber(nil)
		default:
			return []*Value(nil)
		}
	}

	if fd.Kind() == descriptor.MessageKind {
		return (*Value)(nil)
	}
	d := fd.Default()
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		return int32(d.Int())
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		return d.Int()
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		return uint32(d.Uint())
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		return d.Uint()
	case descriptor.BoolKind:
		return d.Bool()
	case descriptor.StringKind:
		return d.String()
	case descriptor.BytesKind:
		return bytes.Clone(d.Bytes())
	case descriptor.FloatKind:
		return float32(d.Float())
	case descriptor.DoubleKind:
		return d.Float()
	case descriptor.EnumKind:
		return EnumNumber(d.Enum())
	}
	return nil
}

// cloneShallow copies slices so callers cannot reach stored storage through
// them. Nested values stay shared.
func cloneShallow(x any) any {
	switch x := x.(type) {
	case []byte:
		return bytes.Clone(x)
	case [][]byte:
		out := make([][]byte, len(x))
		for i, e := range x {
			out[i] = bytes.Clone(e)
		}
		return out
	case []*Value:
		return slices.Clone(x)
	}
	if listLen(x) >= 0 {
		return cloneList(x)
	}
	return x
}

// cloneDeep copies x including nested values.
func cloneDeep(x any) any {
	switch x := x.(type) {
	case *Value:
		return x.Clone()
	case []*Value:
		out := make([]*Value, len(x))
		for i, e := range x {
			out[i] = e.Clone()
		}
		return out
	}
	return cloneShallow(x)
}

func cloneList(x any) any {
	switch s := x.(type) {
	case []int32:
		return slices.Clone(s)
	case []int64:
		return slices.Clone(s)
	case []uint32:
		return slices.Clone(s)
	case []uint64:
		return slices.Clone(s)
	case []bool:
		return slices.Clone(s)
	case []string:
		return slices.Clone(s)
	case []float32:
		return slices.Clone(s)
	case []float64:
		return slices.Clone(s)
	case []EnumNumber:
		return slices.Clone(s)
	}
	return x
}
