package descriptor

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Kind is the declared type of a field.
type Kind int

const (
	InvalidKind Kind = iota
	Int32Kind
	Int64Kind
	Uint32Kind
	Uint64Kind
	Sint32Kind
	Sint64Kind
	Fixed32Kind
	Fixed64Kind
	Sfixed32Kind
	Sfixed64Kind
	BoolKind
	StringKind
	BytesKind
	FloatKind
	DoubleKind
	EnumKind
	MessageKind
)

var kindNames = [...]string{
	InvalidKind:  "invalid",
	Int32Kind:    "int32",
	Int64Kind:    "int64",
	Uint32Kind:   "uint32",
	Uint64Kind:   "uint64",
	Sint32Kind:   "sint32",
	Sint64Kind:   "sint64",
	Fixed32Kind:  "fixed32",
	Fixed64Kind:  "fixed64",
	Sfixed32Kind: "sfixed32",
	Sfixed64Kind: "sfixed64",
	BoolKind:     "bool",
	StringKind:   "string",
	BytesKind:    "bytes",
	FloatKind:    "float",
	DoubleKind:   "double",
	EnumKind:     "enum",
	MessageKind:  "message",
}

// String returns the schema spelling of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// WireType returns the wire type a single value of this kind is encoded with.
func (k Kind) WireType() protowire.Type {
	switch k {
	case Fixed32Kind, Sfixed32Kind, FloatKind:
		return protowire.Fixed32Type
	case Fixed64Kind, Sfixed64Kind, DoubleKind:
		return protowire.Fixed64Type
	case StringKind, BytesKind, MessageKind:
		return protowire.BytesType
	default:
		return protowire.VarintType
	}
}

// IsPackable reports whether repeated values of this kind may share one
// length-delimited run.
func (k Kind) IsPackable() bool {
	switch k {
	case InvalidKind, StringKind, BytesKind, MessageKind:
		return false
	}
	return true
}

func kindOf(k protoreflect.Kind) Kind {
	switch k {
	case protoreflect.Int32Kind:
		return Int32Kind
	case protoreflect.Int64Kind:
		return Int64Kind
	case protoreflect.Uint32Kind:
		return Uint32Kind
	case protoreflect.Uint64Kind:
		return Uint64Kind
	case protoreflect.Sint32Kind:
		return Sint32Kind
	case protoreflect.Sint64Kind:
		return Sint64Kind
	case protoreflect.Fixed32Kind:
		return Fixed32Kind
	case protoreflect.Fixed64Kind:
		return Fixed64Kind
	case protoreflect.Sfixed32Kind:
		return Sfixed32Kind
	case protoreflect.Sfixed64Kind:
		return Sfixed64Kind
	case protoreflect.BoolKind:
		return BoolKind
	case protoreflect.StringKind:
		return StringKind
	case protoreflect.BytesKind:
		return BytesKind
	case protoreflect.FloatKind:
		return FloatKind
	case protoreflect.DoubleKind:
		return DoubleKind
	case protoreflect.EnumKind:
		return EnumKind
	case protoreflect.MessageKind:
		return MessageKind
	}
	return InvalidKind
}

// Cardinality tells singular fields from repeated ones.
type Cardinality int

const (
	Singular Cardinality = iota
	Repeated
)

func (c Cardinality) String() string {
	if c == Repeated {
		return "repeated"
	}
	return "singular"
}

// StreamingShape is the message exchange pattern of a method.
type StreamingShape int

const (
	Unary StreamingShape = iota
	ServerStreaming
	ClientStreaming
	BidiStreaming
)

// String returns a human-readable representation of the shape.
func (s StreamingShape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ServerStreaming:
		return "server-streaming"
	case ClientStreaming:
		return "client-streaming"
	case BidiStreaming:
		return "bidi-streaming"
	default:
		return "unknown"
	}
}

// ClientStreams reports whether the client sends a sequence of messages.
func (s StreamingShape) ClientStreams() bool {
	return s == ClientStreaming || s == BidiStreaming
}

// ServerStreams reports whether the server sends a sequence of messages.
func (s StreamingShape) ServerStreams() bool {
	return s == ServerStreaming || s == BidiStreaming
}

func shapeOf(md protoreflect.MethodDescriptor) StreamingShape {
	switch {
	case md.IsStreamingClient() && md.IsStreamingServer():
		return BidiStreaming
	case md.IsStreamingServer():
		return ServerStreaming
	case md.IsStreamingClient():
		return ClientStreaming
	default:
		return Unary
	}
}
