package codec_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/shhac/dynrpc/internal/codec"
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

func message(t *testing.T, set *descriptor.Set, name string) *descriptor.MessageDescriptor {
	t.Helper()
	md, err := set.FindMessage(name)
	require.NoError(t, err)
	return md
}

func set(t *testing.T, v *dynamic.Value, fields map[string]any) *dynamic.Value {
	t.Helper()
	for name, x := range fields {
		require.NoError(t, v.Set(name, x), name)
	}
	return v
}

func TestMarshal_Number(t *testing.T) {
	s := loadTestSet(t)
	v := set(t, dynamic.New(message(t, s, "kitchen.v1.Number")), map[string]any{"data": int32(7)})

	b, err := codec.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x07}, b)
}

func TestMarshal_EmptyMessage(t *testing.T) {
	s := loadTestSet(t)
	b, err := codec.Marshal(dynamic.New(message(t, s, "kitchen.v1.Scalars")))
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestMarshal_Untyped(t *testing.T) {
	_, err := codec.Marshal(nil)
	assert.Error(t, err)
	_, err = codec.Marshal(&dynamic.Value{})
	assert.Error(t, err)
}

func scalars(t *testing.T, s *descriptor.Set) *dynamic.Value {
	return set(t, dynamic.New(message(t, s, "kitchen.v1.Scalars")), map[string]any{
		"i32":    int32(-5),
		"i64":    int64(math.MaxInt64),
		"u32":    uint32(math.MaxUint32),
		"u64":    uint64(1 << 40),
		"s32":    int32(math.MinInt32),
		"s64":    int64(-2),
		"f32":    uint32(42),
		"f64":    uint64(43),
		"sf32":   int32(-44),
		"sf64":   int64(-45),
		"flag":   true,
		"text":   "héllo",
		"blob":   []byte{0, 1, 2, 0xff},
		"real32": float32(1.5),
		"real64": -2.25,
		"color":  dynamic.EnumNumber(2),
	})
}

func TestMarshal_MatchesProtobufRuntime(t *testing.T) {
	s := loadTestSet(t)

	item := scalars(t, s)
	repeats := set(t, dynamic.New(message(t, s, "kitchen.v1.Repeats")), map[string]any{
		"ints":    []int32{1, -1, 300},
		"names":   []string{"a", "", "c"},
		"reals":   []float64{0.5, math.Inf(1)},
		"colors":  []dynamic.EnumNumber{1, 2, 7},
		"items":   []*dynamic.Value{item, item},
		"loose":   []int32{4, 5},
		"blobs":   [][]byte{{1}, {}},
		"zigzags": []int64{-1, 1, math.MinInt64},
		"fixeds":  []uint32{9, 10},
	})
	legacy := set(t, dynamic.New(message(t, s, "legacy.Settings")), map[string]any{
		"retries": int32(0),
		"mode":    dynamic.EnumNumber(2),
		"ports":   []int32{80, 443},
		"raw":     []byte{},
	})

	for _, v := range []*dynamic.Value{item, repeats, legacy} {
		t.Run(v.Descriptor().Name(), func(t *testing.T) {
			got, err := codec.Marshal(v)
			require.NoError(t, err)
			want, err := proto.MarshalOptions{Deterministic: true}.Marshal(v.ToProto())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestMarshal_PackedAndUnpacked(t *testing.T) {
	s := loadTestSet(t)
	v := set(t, dynamic.New(message(t, s, "kitchen.v1.Repeats")), map[string]any{
		"ints":  []int32{1, 2},
		"loose": []int32{1, 2},
	})
	b, err := codec.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x0a, 0x02, 0x01, 0x02, // ints, packed
		0x30, 0x01, 0x30, 0x02, // loose, one tag per element
	}, b)
}

func TestRoundTrip(t *testing.T) {
	s := loadTestSet(t)
	nested := message(t, s, "kitchen.v1.Nested")
	leaf := message(t, s, "kitchen.v1.Nested.Leaf")

	l := set(t, dynamic.New(leaf), map[string]any{"label": "x", "weight": int32(3)})
	v := set(t, dynamic.New(nested), map[string]any{
		"leaf":   l,
		"leaves": []*dynamic.Value{l, dynamic.New(leaf)},
		"child":  set(t, dynamic.New(nested), map[string]any{"word": "inner"}),
		"node":   l,
		"maybe":  int32(0),
	})
	require.NoError(t, v.PutMapEntry("counts", "a", int32(1)))
	require.NoError(t, v.PutMapEntry("counts", "b", int32(0)))
	require.NoError(t, v.PutMapEntry("by_id", int32(9), l))
	require.NoError(t, v.PutMapEntry("by_id", int32(10), nil))

	b, err := codec.Marshal(v)
	require.NoError(t, err)

	got, err := codec.Unmarshal(b, nested)
	require.NoError(t, err)
	assert.True(t, v.Equal(got), "got %v, want %v", got, v)

	has, err := got.Has("maybe")
	require.NoError(t, err)
	assert.True(t, has, "explicit presence survives a zero value")

	// The protobuf runtime reads the same bytes to the same message.
	pm := dynamicpb.NewMessage(nested.Proto())
	require.NoError(t, proto.Unmarshal(b, pm))
	assert.True(t, proto.Equal(v.ToProto(), pm))

	// And what it writes decodes back.
	b2, err := proto.Marshal(pm)
	require.NoError(t, err)
	got2, err := codec.Unmarshal(b2, nested)
	require.NoError(t, err)
	assert.True(t, v.Equal(got2))
}

func TestRoundTrip_Scalars(t *testing.T) {
	s := loadTestSet(t)
	v := scalars(t, s)
	b, err := codec.Marshal(v)
	require.NoError(t, err)
	got, err := codec.Unmarshal(b, v.Descriptor())
	require.NoError(t, err)
	assert.True(t, v.Equal(got), "got %v", got)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	s := loadTestSet(t)
	v2 := set(t, dynamic.New(message(t, s, "kitchen.v1.NumberV2")), map[string]any{
		"data": int32(5),
		"note": "added later",
		"more": []int64{1, 2, 3},
		"leaf": set(t, dynamic.New(message(t, s, "kitchen.v1.Nested.Leaf")), map[string]any{"label": "l"}),
	})
	b, err := codec.Marshal(v2)
	require.NoError(t, err)

	got, err := codec.Unmarshal(b, message(t, s, "kitchen.v1.Number"))
	require.NoError(t, err)
	data, err := got.Get("data")
	require.NoError(t, err)
	assert.Equal(t, int32(5), data)
}

func TestUnmarshal_SkipsUnknownWireTypes(t *testing.T) {
	s := loadTestSet(t)
	var b []byte
	b = protowire.AppendTag(b, 20, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)
	b = protowire.AppendTag(b, 21, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	b = protowire.AppendTag(b, 22, protowire.StartGroupType)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, 22, protowire.EndGroupType)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 8)

	got, err := codec.Unmarshal(b, message(t, s, "kitchen.v1.Number"))
	require.NoError(t, err)
	data, _ := got.Get("data")
	assert.Equal(t, int32(8), data)
}

func TestUnmarshal_AcceptsEitherRepeatedEncoding(t *testing.T) {
	s := loadTestSet(t)
	md := message(t, s, "kitchen.v1.Repeats")

	// ints is declared packed, loose unpacked; both forms are valid for both.
	b := []byte{
		0x08, 0x01, 0x08, 0x02, // ints unpacked
		0x0a, 0x01, 0x03, // ints packed
		0x32, 0x02, 0x04, 0x05, // loose packed
	}
	got, err := codec.Unmarshal(b, md)
	require.NoError(t, err)

	ints, _ := got.Get("ints")
	assert.Equal(t, []int32{1, 2, 3}, ints)
	loose, _ := got.Get("loose")
	assert.Equal(t, []int32{4, 5}, loose)
}

func TestUnmarshal_LastSingularWins(t *testing.T) {
	s := loadTestSet(t)
	got, err := codec.Unmarshal([]byte{0x08, 0x01, 0x08, 0x02}, message(t, s, "kitchen.v1.Number"))
	require.NoError(t, err)
	data, _ := got.Get("data")
	assert.Equal(t, int32(2), data)
}

func TestUnmarshal_MergesEmbeddedMessages(t *testing.T) {
	s := loadTestSet(t)
	nested := message(t, s, "kitchen.v1.Nested")

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x0a, 0x01, 'a'}) // label
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x10, 0x02}) // weight

	got, err := codec.Unmarshal(b, nested)
	require.NoError(t, err)
	leaf, _ := got.Get("leaf")
	label, _ := leaf.(*dynamic.Value).Get("label")
	weight, _ := leaf.(*dynamic.Value).Get("weight")
	assert.Equal(t, "a", label)
	assert.Equal(t, int32(2), weight)
}

func TestUnmarshal_DuplicateMapKeys(t *testing.T) {
	s := loadTestSet(t)
	nested := message(t, s, "kitchen.v1.Nested")

	entry := func(k string, v uint64) []byte {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, k)
		e = protowire.AppendTag(e, 2, protowire.VarintType)
		e = protowire.AppendVarint(e, v)
		return e
	}
	var b []byte
	for _, e := range [][]byte{entry("a", 1), entry("b", 2), entry("a", 3)} {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}

	got, err := codec.Unmarshal(b, nested)
	require.NoError(t, err)
	want := dynamic.New(nested)
	require.NoError(t, want.PutMapEntry("counts", "a", int32(3)))
	require.NoError(t, want.PutMapEntry("counts", "b", int32(2)))
	assert.True(t, want.Equal(got), "got %v", got)
}

func TestUnmarshal_OneofLastMemberWins(t *testing.T) {
	s := loadTestSet(t)
	nested := message(t, s, "kitchen.v1.Nested")

	var b []byte
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, "w")
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 11)

	got, err := codec.Unmarshal(b, nested)
	require.NoError(t, err)
	hasWord, _ := got.Has("word")
	assert.False(t, hasWord)
	n, _ := got.Get("number")
	assert.Equal(t, int64(11), n)
}

func TestUnmarshal_Errors(t *testing.T) {
	s := loadTestSet(t)
	number := message(t, s, "kitchen.v1.Number")
	scalarsMD := message(t, s, "kitchen.v1.Scalars")

	tests := []struct {
		name   string
		md     *descriptor.MessageDescriptor
		in     []byte
		reason codec.Reason
		sent   error
		offset int
		field  string
	}{
		{"missing value", number, []byte{0x08, 0x07, 0x08}, codec.Truncated, codec.ErrTruncated, 3, "data"},
		{"unterminated varint", number, []byte{0x08, 0x80}, codec.Truncated, codec.ErrTruncated, 1, "data"},
		{"short length", scalarsMD, []byte{0x62, 0x05, 'a'}, codec.Truncated, codec.ErrTruncated, 1, "text"},
		{"unterminated tag", number, []byte{0x80}, codec.Truncated, codec.ErrTruncated, 0, ""},
		{"reserved wire type 6", number, []byte{0x0e, 0x00}, codec.InvalidTag, codec.ErrInvalidTag, 0, ""},
		{"reserved wire type 7", number, []byte{0x0f, 0x00}, codec.InvalidTag, codec.ErrInvalidTag, 0, ""},
		{"field number zero", number, []byte{0x00, 0x01}, codec.InvalidTag, codec.ErrInvalidTag, 0, ""},
		{"stray end group", number, []byte{0x14}, codec.InvalidTag, codec.ErrInvalidTag, 1, ""},
		{"fixed32 for varint field", number, []byte{0x0d, 1, 0, 0, 0}, codec.TypeMismatch, codec.ErrTypeMismatch, 1, "data"},
		{"varint for string field", scalarsMD, []byte{0x60, 0x01}, codec.TypeMismatch, codec.ErrTypeMismatch, 1, "text"},
		{"invalid utf-8", scalarsMD, []byte{0x62, 0x01, 0xc3}, codec.TypeMismatch, codec.ErrTypeMismatch, 1, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Unmarshal(tt.in, tt.md)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, tt.sent)

			var de *codec.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.reason, de.Reason)
			assert.Equal(t, tt.offset, de.Offset)
			assert.Equal(t, tt.field, de.Field)
			assert.Equal(t, tt.md.FullName(), de.Message)
		})
	}
}

func TestUnmarshal_Limits(t *testing.T) {
	s := loadTestSet(t)
	nested := message(t, s, "kitchen.v1.Nested")

	// Five levels of child.
	v := dynamic.New(nested)
	cur := v
	for range 4 {
		next, err := cur.Mutable("child")
		require.NoError(t, err)
		cur = next
	}
	require.NoError(t, cur.Set("word", "deep"))
	b, err := codec.Marshal(v)
	require.NoError(t, err)

	_, err = codec.UnmarshalOptions{MaxDepth: 5}.Unmarshal(b, nested)
	require.NoError(t, err)

	_, err = codec.UnmarshalOptions{MaxDepth: 4}.Unmarshal(b, nested)
	assert.ErrorIs(t, err, codec.ErrLimitExceeded)

	_, err = codec.UnmarshalOptions{MaxBytes: len(b) - 1}.Unmarshal(b, nested)
	assert.ErrorIs(t, err, codec.ErrLimitExceeded)
}

func TestUnmarshal_HostileLengthDoesNotAllocate(t *testing.T) {
	s := loadTestSet(t)
	// A length prefix of ~2^62 followed by nothing.
	b := protowire.AppendTag(nil, 13, protowire.BytesType)
	b = protowire.AppendVarint(b, 1<<62)
	_, err := codec.Unmarshal(b, message(t, s, "kitchen.v1.Scalars"))
	assert.ErrorIs(t, err, codec.ErrTruncated)
}
