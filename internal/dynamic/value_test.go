package dynamic_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
	"github.com/shhac/dynrpc/internal/schema"
)

func loadTestSet(t *testing.T) *descriptor.Set {
	t.Helper()
	l := &schema.Loader{ImportPaths: []string{"../../testdata/proto"}}
	set, err := l.Load("kitchen/v1/kitchen.proto", "legacy/legacy.proto")
	require.NoError(t, err)
	return set
}

func newValue(t *testing.T, set *descriptor.Set, name string) *dynamic.Value {
	t.Helper()
	md, err := set.FindMessage(name)
	require.NoError(t, err)
	return dynamic.New(md)
}

func TestNew_ZeroValued(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Scalars")

	tests := []struct {
		field string
		want  any
	}{
		{"i32", int32(0)},
		{"i64", int64(0)},
		{"u32", uint32(0)},
		{"u64", uint64(0)},
		{"s32", int32(0)},
		{"f64", uint64(0)},
		{"flag", false},
		{"text", ""},
		{"real32", float32(0)},
		{"real64", float64(0)},
		{"color", dynamic.EnumNumber(0)},
	}
	for _, tt := range tests {
		got, err := v.Get(tt.field)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.field)
		has, err := v.Has(tt.field)
		require.NoError(t, err)
		assert.False(t, has, tt.field)
	}

	n := newValue(t, set, "kitchen.v1.Nested")
	leaf, err := n.Get("leaf")
	require.NoError(t, err)
	assert.Equal(t, (*dynamic.Value)(nil), leaf)

	r := newValue(t, set, "kitchen.v1.Repeats")
	ints, err := r.Get("ints")
	require.NoError(t, err)
	assert.Equal(t, []int32(nil), ints)
}

func TestSetGet_Scalars(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Scalars")

	values := map[string]any{
		"i32":    int32(-7),
		"i64":    int64(1) << 40,
		"u32":    uint32(7),
		"u64":    uint64(math.MaxUint64),
		"s32":    int32(-1),
		"s64":    int64(-2),
		"f32":    uint32(3),
		"f64":    uint64(4),
		"sf32":   int32(-5),
		"sf64":   int64(-6),
		"flag":   true,
		"text":   "héllo",
		"blob":   []byte{0, 1, 2},
		"real32": float32(1.5),
		"real64": 2.25,
		"color":  dynamic.EnumNumber(2),
	}
	for name, x := range values {
		require.NoError(t, v.Set(name, x), name)
	}
	for name, x := range values {
		got, err := v.Get(name)
		require.NoError(t, err)
		assert.Equal(t, x, got, name)
	}
}

func TestSet_Errors(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Repeats")
	require.NoError(t, v.Set("ints", []int32{1, 2}))
	before := v.Clone()

	leaf := newValue(t, set, "kitchen.v1.Nested.Leaf")

	tests := []struct {
		name   string
		field  string
		value  any
		reason error
	}{
		{"unknown field", "nope", int32(1), dynamic.ErrUnknownField},
		{"int for int32 list", "ints", []int{1}, dynamic.ErrTypeMismatch},
		{"empty int for int32 list", "ints", []int{}, dynamic.ErrTypeMismatch},
		{"any for string list", "names", []any{"a"}, dynamic.ErrTypeMismatch},
		{"scalar for repeated", "ints", int32(1), dynamic.ErrCardinalityMismatch},
		{"wrong message type", "items", []*dynamic.Value{leaf}, dynamic.ErrTypeMismatch},
		{"nil element", "items", []*dynamic.Value{nil}, dynamic.ErrTypeMismatch},
		{"int32 for enum list", "colors", []int32{1}, dynamic.ErrTypeMismatch},
		{"bad utf8", "names", []string{"ok", "\xff"}, dynamic.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Set(tt.field, tt.value)
			require.ErrorIs(t, err, tt.reason)
			var fe *dynamic.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, "kitchen.v1.Repeats", fe.Message)
			assert.True(t, v.Equal(before), "failed Set must not change the value")
		})
	}

	s := newValue(t, set, "kitchen.v1.Scalars")
	assert.ErrorIs(t, s.Set("i32", 7), dynamic.ErrTypeMismatch, "untyped int is not int32")
	assert.ErrorIs(t, s.Set("i32", []int32{7}), dynamic.ErrCardinalityMismatch)
	assert.ErrorIs(t, s.Set("text", "\xc3"), dynamic.ErrTypeMismatch)
	assert.ErrorIs(t, s.Set("color", int32(1)), dynamic.ErrTypeMismatch)
	assert.ErrorIs(t, s.Set("i32", nil), dynamic.ErrTypeMismatch)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, dynamic.ErrUnknownField)
}

func TestSet_Proto2SkipsUTF8Check(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "legacy.Settings")
	assert.NoError(t, v.Set("label", "\xff"))
}

func TestSet_ImplicitPresenceZeroClears(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Scalars")

	require.NoError(t, v.Set("i32", int32(3)))
	require.NoError(t, v.Set("i32", int32(0)))
	has, _ := v.Has("i32")
	assert.False(t, has)

	// negative zero is encoded on the wire, so it stays set
	require.NoError(t, v.Set("real64", math.Copysign(0, -1)))
	has, _ = v.Has("real64")
	assert.True(t, has)

	n := newValue(t, set, "kitchen.v1.Nested")
	require.NoError(t, n.Set("maybe", int32(0)))
	has, _ = n.Has("maybe")
	assert.True(t, has, "explicit presence keeps zero")
}

func TestSet_Proto2Defaults(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "legacy.Settings")

	got, err := v.Get("retries")
	require.NoError(t, err)
	assert.Equal(t, int32(3), got)
	got, _ = v.Get("label")
	assert.Equal(t, "main", got)
	got, _ = v.Get("mode")
	assert.Equal(t, dynamic.EnumNumber(1), got, "first enum value is the default")
	got, _ = v.Get("ratio")
	assert.Equal(t, 0.5, got)

	other := newValue(t, set, "legacy.Settings")
	require.NoError(t, other.Set("retries", int32(3)))
	assert.True(t, v.Equal(other), "unset equals explicit default")
}

func TestSet_OneofClearsSiblings(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Nested")

	require.NoError(t, v.Set("word", "hi"))
	require.NoError(t, v.Set("number", int64(0)))

	has, _ := v.Has("word")
	assert.False(t, has)
	has, _ = v.Has("number")
	assert.True(t, has, "oneof members keep zero values")

	node, err := v.Mutable("node")
	require.NoError(t, err)
	require.NoError(t, node.Set("label", "n"))
	has, _ = v.Has("number")
	assert.False(t, has)
}

func TestSet_NestedIsCopied(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Nested")
	leaf := newValue(t, set, "kitchen.v1.Nested.Leaf")
	require.NoError(t, leaf.Set("label", "a"))

	require.NoError(t, v.Set("leaf", leaf))
	require.NoError(t, leaf.Set("label", "b"))

	got, _ := v.Get("leaf")
	label, _ := got.(*dynamic.Value).Get("label")
	assert.Equal(t, "a", label)

	// a value can be stored into itself without creating a cycle
	require.NoError(t, v.Set("child", v))
	child, _ := v.Get("child")
	grandchild, _ := child.(*dynamic.Value).Get("child")
	assert.Nil(t, grandchild)

	require.NoError(t, v.Set("leaf", nil))
	has, _ := v.Has("leaf")
	assert.False(t, has)
}

func TestGet_ReturnsCopies(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Repeats")
	require.NoError(t, v.Set("ints", []int32{1, 2, 3}))

	got, _ := v.Get("ints")
	got.([]int32)[0] = 99

	again, _ := v.Get("ints")
	assert.Equal(t, []int32{1, 2, 3}, again)
}

func TestAppendAndMaps(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Nested")

	require.NoError(t, v.PutMapEntry("counts", "a", int32(1)))
	require.NoError(t, v.PutMapEntry("counts", "b", int32(2)))
	require.NoError(t, v.PutMapEntry("counts", "a", int32(3)))
	got, _ := v.Get("counts")
	entries := got.([]*dynamic.Value)
	require.Len(t, entries, 2, "keys stay unique")
	val, _ := entries[0].Get("value")
	assert.Equal(t, int32(3), val)

	assert.ErrorIs(t, v.PutMapEntry("counts", int32(1), int32(1)), dynamic.ErrTypeMismatch)
	assert.ErrorIs(t, v.PutMapEntry("leaf", "a", int32(1)), dynamic.ErrTypeMismatch)

	require.NoError(t, v.PutMapEntry("by_id", int32(7), nil))
	got, _ = v.Get("by_id")
	leaf, _ := got.([]*dynamic.Value)[0].Get("value")
	assert.NotNil(t, leaf, "message-valued maps never hold absent values")

	l, err := v.AppendNew("leaves")
	require.NoError(t, err)
	require.NoError(t, l.Set("weight", int32(5)))
	second := newValue(t, set, "kitchen.v1.Nested.Leaf")
	require.NoError(t, v.Append("leaves", second))
	got, _ = v.Get("leaves")
	require.Len(t, got, 2)
	w, _ := got.([]*dynamic.Value)[0].Get("weight")
	assert.Equal(t, int32(5), w)

	assert.ErrorIs(t, v.Append("leaf", second), dynamic.ErrCardinalityMismatch)
	assert.ErrorIs(t, v.Append("leaves", []*dynamic.Value{second}), dynamic.ErrCardinalityMismatch)

	r := newValue(t, set, "kitchen.v1.Repeats")
	require.NoError(t, r.Append("ints", int32(4)))
	require.NoError(t, r.Append("ints", int32(5)))
	assert.ErrorIs(t, r.Append("ints", []int{6}), dynamic.ErrCardinalityMismatch)
	ints, _ := r.Get("ints")
	assert.Equal(t, []int32{4, 5}, ints)
}

func TestRange_NumberOrder(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Scalars")
	require.NoError(t, v.Set("color", dynamic.EnumNumber(1)))
	require.NoError(t, v.Set("i32", int32(1)))
	require.NoError(t, v.Set("text", "x"))

	var order []string
	v.Range(func(fd *descriptor.FieldDescriptor, _ any) bool {
		order = append(order, fd.Name())
		return true
	})
	assert.Equal(t, []string{"i32", "text", "color"}, order)
}

func TestEqual(t *testing.T) {
	set := loadTestSet(t)

	a := newValue(t, set, "kitchen.v1.Repeats")
	b := newValue(t, set, "kitchen.v1.Repeats")
	assert.True(t, a.Equal(b))

	require.NoError(t, a.Set("reals", []float64{math.NaN(), 1}))
	require.NoError(t, b.Set("reals", []float64{math.NaN(), 1}))
	assert.True(t, a.Equal(b), "NaN equals NaN")

	require.NoError(t, b.Set("reals", []float64{1, math.NaN()}))
	assert.False(t, a.Equal(b), "order matters for repeated fields")

	m1 := newValue(t, set, "kitchen.v1.Nested")
	m2 := newValue(t, set, "kitchen.v1.Nested")
	require.NoError(t, m1.PutMapEntry("counts", "x", int32(1)))
	require.NoError(t, m1.PutMapEntry("counts", "y", int32(2)))
	require.NoError(t, m2.PutMapEntry("counts", "y", int32(2)))
	require.NoError(t, m2.PutMapEntry("counts", "x", int32(1)))
	assert.True(t, m1.Equal(m2), "maps compare as mappings")

	_, err := m2.Mutable("leaf")
	require.NoError(t, err)
	assert.False(t, m1.Equal(m2), "absent message differs from empty message")

	assert.False(t, a.Equal(m1))
	assert.False(t, a.Equal(nil))
}

func TestProtoBridge(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Nested")
	require.NoError(t, v.Set("word", "w"))
	require.NoError(t, v.PutMapEntry("counts", "k", int32(9)))
	leaf, err := v.Mutable("leaf")
	require.NoError(t, err)
	require.NoError(t, leaf.Set("label", "l"))

	msg := v.ToProto()
	data, err := proto.Marshal(msg)
	require.NoError(t, err)

	md, _ := set.FindMessage("kitchen.v1.Nested")
	parsed := dynamicpb.NewMessage(md.Proto())
	require.NoError(t, proto.Unmarshal(data, parsed))
	if diff := cmp.Diff(msg, parsed, protocmp.Transform()); diff != "" {
		t.Errorf("proto round trip mismatch (-want +got):\n%s", diff)
	}

	back, err := dynamic.FromProto(md, parsed)
	require.NoError(t, err)
	assert.True(t, v.Equal(back), "got %s want %s", back, v)
	assert.Contains(t, v.String(), "word")
	assert.Equal(t, "<nil>", (*dynamic.Value)(nil).String())

	other, _ := set.FindMessage("kitchen.v1.Scalars")
	_, err = dynamic.FromProto(other, parsed)
	assert.Error(t, err)
}

func TestClone_Independent(t *testing.T) {
	set := loadTestSet(t)
	v := newValue(t, set, "kitchen.v1.Nested")
	leaf, _ := v.Mutable("leaf")
	require.NoError(t, leaf.Set("weight", int32(1)))

	c := v.Clone()
	require.True(t, c.Equal(v))

	cl, _ := c.Mutable("leaf")
	require.NoError(t, cl.Set("weight", int32(2)))
	assert.False(t, c.Equal(v))
}
