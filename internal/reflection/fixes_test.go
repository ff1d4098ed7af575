package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/shhac/dynrpc/internal/logging"
)

func file(name string, deps []string, msgs ...*descriptorpb.DescriptorProto) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(name),
		Package:     proto.String("quirks"),
		Syntax:      proto.String("proto3"),
		Dependency:  deps,
		MessageType: msgs,
	}
}

func msgField(msg, field, typeName string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(msg),
		Field: []*descriptorpb.FieldDescriptorProto{{
			Name:     proto.String(field),
			Number:   proto.Int32(1),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(typeName),
			JsonName: proto.String(field),
		}},
	}
}

func TestFixReservedRanges(t *testing.T) {
	m := &descriptorpb.DescriptorProto{
		Name: proto.String("Outer"),
		ReservedRange: []*descriptorpb.DescriptorProto_ReservedRange{
			{Start: proto.Int32(10), End: proto.Int32(5)},
			{Start: proto.Int32(20), End: proto.Int32(21)},
		},
		NestedType: []*descriptorpb.DescriptorProto{{
			Name:          proto.String("Inner"),
			ReservedRange: []*descriptorpb.DescriptorProto_ReservedRange{{Start: proto.Int32(3), End: proto.Int32(1)}},
		}},
	}
	fixReservedRanges(m)

	assert.Equal(t, int32(5), m.GetReservedRange()[0].GetStart())
	assert.Equal(t, int32(10), m.GetReservedRange()[0].GetEnd())
	assert.Equal(t, int32(20), m.GetReservedRange()[1].GetStart())
	assert.Equal(t, int32(1), m.GetNestedType()[0].GetReservedRange()[0].GetStart())
}

func TestFixMissingImports(t *testing.T) {
	fd := file("quirks.proto", nil, msgField("Event", "at", ".google.protobuf.Timestamp"))
	assert.True(t, fixMissingImports(fd, protoregistry.GlobalFiles))
	assert.Equal(t, []string{"google/protobuf/timestamp.proto"}, fd.GetDependency())

	// Already declared: nothing to do.
	assert.False(t, fixMissingImports(fd, protoregistry.GlobalFiles))

	other := file("other.proto", nil, msgField("Ref", "x", ".quirks.Event"))
	assert.False(t, fixMissingImports(other, protoregistry.GlobalFiles))
	assert.Empty(t, other.GetDependency())
}

func TestProcessDescriptors_DropsLinkedWellKnownFiles(t *testing.T) {
	wkt := &descriptorpb.FileDescriptorProto{Name: proto.String("google/protobuf/empty.proto")}
	custom := &descriptorpb.FileDescriptorProto{Name: proto.String("google/protobuf/not_linked.proto")}
	own := file("quirks.proto", nil)

	out := ProcessDescriptors([]*descriptorpb.FileDescriptorProto{wkt, custom, own})
	var names []string
	for _, fd := range out {
		names = append(names, fd.GetName())
	}
	assert.Equal(t, []string{"google/protobuf/not_linked.proto", "quirks.proto"}, names)
}

func TestBuildFileDescriptors_DependencyOrder(t *testing.T) {
	base := file("base.proto", nil, &descriptorpb.DescriptorProto{Name: proto.String("Base")})
	top := file("top.proto", []string{"base.proto"}, msgField("Top", "base", ".quirks.Base"))

	files, err := buildFileDescriptors([]*descriptorpb.FileDescriptorProto{top, base}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, files.NumFiles())

	d, err := files.FindDescriptorByName("quirks.Top")
	require.NoError(t, err)
	field := d.(protoreflect.MessageDescriptor).Fields().ByName("base")
	assert.False(t, field.Message().IsPlaceholder())
}

func TestBuildFileDescriptors_MissingDependency(t *testing.T) {
	top := file("top.proto", []string{"gone.proto"}, msgField("Top", "x", ".quirks.Gone"))

	files, err := buildFileDescriptors([]*descriptorpb.FileDescriptorProto{top}, logging.NewNopLogger())
	require.NoError(t, err)
	d, err := files.FindDescriptorByName("quirks.Top")
	require.NoError(t, err)
	assert.True(t, d.(protoreflect.MessageDescriptor).Fields().ByName("x").Message().IsPlaceholder())
}
