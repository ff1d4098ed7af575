package dynamic

import (
	"bytes"

	"github.com/shhac/dynrpc/internal/descriptor"
)

// Equal reports whether v and o hold the same message. Unset fields compare
// equal to their defaults, repeated fields element by element in order and
// map fields as key to value mappings. NaN equals NaN. An absent nested
// message differs from a present empty one.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	if !sameType(v.desc, o.desc) || len(v.fields) != len(o.fields) {
		return false
	}
	for _, fd := range v.desc.Fields() {
		if !fieldEqual(fd, v.get(fd), o.get(fd)) {
			return false
		}
	}
	return true
}

func fieldEqual(fd *descriptor.FieldDescriptor, a, b any) bool {
	if fd.IsMap() {
		return mapEqual(fd, a.([]*Value), b.([]*Value))
	}
	if fd.IsRepeated() {
		return listEqual(a, b)
	}
	return elemEqual(a, b)
}

func mapEqual(fd *descriptor.FieldDescriptor, a, b []*Value) bool {
	if len(a) != len(b) {
		return false
	}
	kfd, vfd := fd.MapKey(), fd.MapValue()
	index := make(map[any]*Value, len(a))
	for _, e := range a {
		index[e.get(kfd)] = e
	}
	for _, e := range b {
		other, ok := index[e.get(kfd)]
		if !ok || !elemEqual(other.get(vfd), e.get(vfd)) {
			return false
		}
	}
	return true
}

func listEqual(a, b any) bool {
	switch x := a.(type) {
	case []int32:
		return sliceEqual(x, b.([]int32), eq)
	case []int64:
		return sliceEqual(x, b.([]int64), eq)
	case []uint32:
		return sliceEqual(x, b.([]uint32), eq)
	case []uint64:
		return sliceEqual(x, b.([]uint64), eq)
	case []bool:
		return sliceEqual(x, b.([]bool), eq)
	case []string:
		return sliceEqual(x, b.([]string), eq)
	case [][]byte:
		return sliceEqual(x, b.([][]byte), bytes.Equal)
	case []float32:
		return sliceEqual(x, b.([]float32), floatEqual)
	case []float64:
		return sliceEqual(x, b.([]float64), floatEqual)
	case []EnumNumber:
		return sliceEqual(x, b.([]EnumNumber), eq)
	case []*Value:
		return sliceEqual(x, b.([]*Value), (*Value).Equal)
	}
	return false
}

func sliceEqual[T any](a, b []T, f func(T, T) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !f(a[i], b[i]) {
			return false
		}
	}
	return true
}

func eq[T comparable](a, b T) bool { return a == b }

func floatEqual[T float32 | float64](a, b T) bool {
	return a == b || (a != a && b != b)
}

func elemEqual(a, b any) bool {
	switch x := a.(type) {
	case float32:
		y, ok := b.(float32)
		return ok && floatEqual(x, y)
	case float64:
		y, ok := b.(float64)
		return ok && floatEqual(x, y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case *Value:
		y, ok := b.(*Value)
		return ok && x.Equal(y)
	}
	return a == b
}
