package descriptor_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/schema"
)

func loadTestSet(t *testing.T) *descriptor.Set {
	t.Helper()
	l := &schema.Loader{ImportPaths: []string{"../../testdata/proto"}}
	set, err := l.Load("kitchen/v1/kitchen.proto", "other/v1/other.proto", "legacy/legacy.proto")
	require.NoError(t, err)
	return set
}

func TestFindMessage_FieldsMatchDeclaration(t *testing.T) {
	set := loadTestSet(t)

	md, err := set.FindMessage("kitchen.v1.Scalars")
	require.NoError(t, err)

	want := []struct {
		name   string
		number protowire.Number
		kind   descriptor.Kind
	}{
		{"i32", 1, descriptor.Int32Kind},
		{"i64", 2, descriptor.Int64Kind},
		{"u32", 3, descriptor.Uint32Kind},
		{"u64", 4, descriptor.Uint64Kind},
		{"s32", 5, descriptor.Sint32Kind},
		{"s64", 6, descriptor.Sint64Kind},
		{"f32", 7, descriptor.Fixed32Kind},
		{"f64", 8, descriptor.Fixed64Kind},
		{"sf32", 9, descriptor.Sfixed32Kind},
		{"sf64", 10, descriptor.Sfixed64Kind},
		{"flag", 11, descriptor.BoolKind},
		{"text", 12, descriptor.StringKind},
		{"blob", 13, descriptor.BytesKind},
		{"real32", 14, descriptor.FloatKind},
		{"real64", 15, descriptor.DoubleKind},
		{"color", 16, descriptor.EnumKind},
	}
	require.Len(t, md.Fields(), len(want))
	for i, w := range want {
		f := md.Fields()[i]
		assert.Equal(t, w.name, f.Name())
		assert.Equal(t, w.number, f.Number())
		assert.Equal(t, w.kind, f.Kind(), f.Name())
		assert.Equal(t, descriptor.Singular, f.Cardinality(), f.Name())
		assert.Same(t, f, md.FieldByNumber(w.number))
		assert.Same(t, f, md.FieldByName(w.name))
	}
	assert.Equal(t, "kitchen/v1/kitchen.proto", md.File())
	assert.True(t, md.ValidatesUTF8())
	assert.Equal(t, "kitchen.v1.Color", md.FieldByName("color").Enum().FullName())
}

func TestFindMessage_Repeated(t *testing.T) {
	set := loadTestSet(t)
	md, err := set.FindMessage("kitchen.v1.Repeats")
	require.NoError(t, err)

	ints := md.FieldByName("ints")
	assert.Equal(t, descriptor.Repeated, ints.Cardinality())
	assert.True(t, ints.IsPacked())
	assert.False(t, md.FieldByName("loose").IsPacked())
	assert.False(t, md.FieldByName("names").IsPacked())

	items := md.FieldByName("items")
	assert.Equal(t, descriptor.MessageKind, items.Kind())
	assert.Equal(t, "kitchen.v1.Scalars", items.Message().FullName())
}

func TestFindMessage_NestedMapsAndOneofs(t *testing.T) {
	set := loadTestSet(t)
	md, err := set.FindMessage("kitchen.v1.Nested")
	require.NoError(t, err)

	counts := md.FieldByName("counts")
	require.True(t, counts.IsMap())
	assert.Equal(t, descriptor.StringKind, counts.MapKey().Kind())
	assert.Equal(t, descriptor.Int32Kind, counts.MapValue().Kind())
	assert.True(t, counts.Message().IsMapEntry())

	// recursive reference resolves to the same descriptor
	assert.Same(t, md, md.FieldByName("child").Message())

	var names []string
	for _, f := range md.OneofFields("choice") {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"word", "number", "node"}, names)

	maybe := md.FieldByName("maybe")
	assert.Empty(t, maybe.Oneof(), "synthetic oneof must not be reported")
	assert.True(t, maybe.HasPresence())
	assert.False(t, md.FieldByName("word").IsMap())

	assert.Same(t, md.FieldByName("by_id"), md.FieldByJSONName("byId"))
}

func TestFindMessage_NameForms(t *testing.T) {
	set := loadTestSet(t)

	tests := []struct {
		name string
		want string
	}{
		{"kitchen.v1.Scalars", "kitchen.v1.Scalars"},
		{".kitchen.v1.Scalars", "kitchen.v1.Scalars"},
		{"Scalars", "kitchen.v1.Scalars"},
		{"Nested.Leaf", "kitchen.v1.Nested.Leaf"},
		{"v1.Wrapper", "other.v1.Wrapper"},
		{"Settings", "legacy.Settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := set.FindMessage(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, md.FullName())
		})
	}
}

func TestFindMessage_Ambiguous(t *testing.T) {
	set := loadTestSet(t)

	_, err := set.FindMessage("Number")
	require.Error(t, err)
	assert.True(t, errors.Is(err, descriptor.ErrAmbiguous))
	assert.True(t, errors.Is(err, descriptor.ErrNotFound))

	var amb *descriptor.AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.ElementsMatch(t, []string{"kitchen.v1.Number", "other.v1.Number"}, amb.Candidates)
}

func TestFindMessage_NotFound(t *testing.T) {
	set := loadTestSet(t)

	for _, name := range []string{"", "Missing", "kitchen.v1.Missing", "Leaf"} {
		_, err := set.FindMessage(name)
		assert.ErrorIs(t, err, descriptor.ErrNotFound, name)
		assert.NotErrorIs(t, err, descriptor.ErrAmbiguous, name)
	}
}

func TestFindMessageFrom_InnermostScopeWins(t *testing.T) {
	set := loadTestSet(t)

	md, err := set.FindMessageFrom("other.v1.Wrapper", "Number")
	require.NoError(t, err)
	assert.Equal(t, "other.v1.Number", md.FullName())

	md, err = set.FindMessageFrom("kitchen.v1.Nested", "Leaf")
	require.NoError(t, err)
	assert.Equal(t, "kitchen.v1.Nested.Leaf", md.FullName())

	md, err = set.FindMessageFrom("other.v1", "kitchen.v1.Number")
	require.NoError(t, err)
	assert.Equal(t, "kitchen.v1.Number", md.FullName())

	_, err = set.FindMessageFrom("legacy", "Leaf")
	assert.ErrorIs(t, err, descriptor.ErrNotFound)
}

func TestFindMethod(t *testing.T) {
	set := loadTestSet(t)

	tests := []struct {
		name  string
		path  string
		shape descriptor.StreamingShape
	}{
		{"/kitchen.v1.Kitchen/Echo", "/kitchen.v1.Kitchen/Echo", descriptor.Unary},
		{"kitchen.v1.Kitchen/Count", "/kitchen.v1.Kitchen/Count", descriptor.ServerStreaming},
		{"kitchen.v1.Kitchen.Sum", "/kitchen.v1.Kitchen/Sum", descriptor.ClientStreaming},
		{"v1.Kitchen/Chat", "", 0},
		{"/other.v1.Kitchen/Echo", "/other.v1.Kitchen/Echo", descriptor.Unary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := set.FindMethod(tt.name)
			if tt.path == "" {
				// v1.Kitchen exists in two packages
				assert.ErrorIs(t, err, descriptor.ErrAmbiguous)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path, m.Path())
			assert.Equal(t, tt.shape, m.Shape())
		})
	}

	m, err := set.FindMethod("/kitchen.v1.Kitchen/Chat")
	require.NoError(t, err)
	assert.Equal(t, descriptor.BidiStreaming, m.Shape())
	assert.True(t, m.Shape().ClientStreams())
	assert.True(t, m.Shape().ServerStreams())
	assert.Equal(t, "kitchen.v1.Nested", m.Input().FullName())
	assert.Equal(t, "kitchen.v1.Kitchen.Chat", m.FullName())
}

func TestFindMethod_NotFound(t *testing.T) {
	set := loadTestSet(t)

	for _, name := range []string{
		"/kitchen.v1.Kitchen/NoSuchMethod",
		"/Pkg.Svc/NoSuchMethod",
		"Echo",
		"/",
		"kitchen.v1.Kitchen/",
	} {
		_, err := set.FindMethod(name)
		var nf *descriptor.NotFoundError
		require.ErrorAs(t, err, &nf, name)
		assert.Equal(t, "method", nf.Kind)
	}
}

func TestServicesAndMessages(t *testing.T) {
	set := loadTestSet(t)

	var names []string
	for _, s := range set.Services() {
		names = append(names, s.FullName())
	}
	assert.Equal(t, []string{"kitchen.v1.Kitchen", "other.v1.Kitchen"}, names)

	svc, err := set.FindService("kitchen.v1.Kitchen")
	require.NoError(t, err)
	require.Len(t, svc.Methods(), 4)
	assert.Equal(t, "Echo", svc.Methods()[0].Name())
	assert.Nil(t, svc.Method("Nope"))

	for _, m := range set.Messages() {
		assert.False(t, m.IsMapEntry(), m.FullName())
	}

	// imported well-known types are indexed too
	ts, err := set.FindMessage("google.protobuf.Timestamp")
	require.NoError(t, err)
	assert.Equal(t, "google/protobuf/timestamp.proto", ts.File())

	mt, err := set.Types().FindMessageByName("kitchen.v1.Nested")
	require.NoError(t, err)
	assert.Equal(t, "kitchen.v1.Nested", string(mt.Descriptor().FullName()))

	_, err = set.Files().FindFileByPath("legacy/legacy.proto")
	assert.NoError(t, err)
	assert.Len(t, set.Roots(), 3)
}

func TestEnumsAndDefaults(t *testing.T) {
	set := loadTestSet(t)

	e, err := set.FindEnum("Mode")
	require.NoError(t, err)
	assert.Equal(t, []descriptor.EnumValue{{Name: "MODE_SLOW", Number: 1}, {Name: "MODE_FAST", Number: 2}}, e.Values())
	v, ok := e.ValueByName("MODE_FAST")
	assert.True(t, ok)
	assert.Equal(t, int32(2), v.Number)
	_, ok = e.ValueByNumber(7)
	assert.False(t, ok)

	md, err := set.FindMessage("legacy.Settings")
	require.NoError(t, err)
	assert.False(t, md.ValidatesUTF8())
	assert.Equal(t, int64(3), md.FieldByName("retries").Default().Int())
	assert.False(t, md.FieldByName("ports").IsPacked())
}

func TestNewSet_RejectsGroups(t *testing.T) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    strPtr("groups.proto"),
		Package: strPtr("groups"),
		Syntax:  strPtr("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: strPtr("Outer"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:     strPtr("inner"),
				Number:   int32Ptr(1),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_GROUP.Enum(),
				TypeName: strPtr(".groups.Outer.Inner"),
			}},
			NestedType: []*descriptorpb.DescriptorProto{{Name: strPtr("Inner")}},
		}},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	require.NoError(t, err)

	_, err = descriptor.NewSet(fd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group")
}

func TestSet_ConcurrentLookups(t *testing.T) {
	set := loadTestSet(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := set.FindMessage("Scalars")
				assert.NoError(t, err)
				_, err = set.FindMethod("/kitchen.v1.Kitchen/Echo")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func strPtr(s string) *string { return &s }
func int32Ptr(i int32) *int32 { return &i }
