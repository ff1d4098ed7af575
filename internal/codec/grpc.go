package codec

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// Name is registered as the content subtype, so peers see ordinary
// application/grpc+proto traffic.
const Name = "proto"

// Side selects which direction of a method a Codec encodes.
type Side int

const (
	// ClientSide sends the method input and receives its output.
	ClientSide Side = iota
	// ServerSide receives the method input and sends its output.
	ServerSide
)

// Codec is a grpc encoding.Codec for *dynamic.Value messages. Generated
// proto.Message values pass through to the protobuf runtime, which lets
// the same codec serve health and reflection traffic.
type Codec struct {
	send, recv *descriptor.MessageDescriptor
	// Limits bounds every Unmarshal.
	Limits UnmarshalOptions
}

var _ encoding.Codec = (*Codec)(nil)

// NewMethodCodec returns a codec bound to one method. Messages of any other
// type are rejected.
func NewMethodCodec(md *descriptor.MethodDescriptor, side Side) *Codec {
	if side == ServerSide {
		return &Codec{send: md.Output(), recv: md.Input()}
	}
	return &Codec{send: md.Input(), recv: md.Output()}
}

// NewValueCodec returns a codec that takes the message type from the value
// being encoded or decoded into.
func NewValueCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return Name }

func (c *Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *dynamic.Value:
		if c.send != nil && m.Descriptor() != nil && m.Descriptor().FullName() != c.send.FullName() {
			return nil, fmt.Errorf("codec: cannot send %s, method expects %s", m.Descriptor().FullName(), c.send.FullName())
		}
		return Marshal(m)
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("codec: cannot marshal %T", v)
}

// Unmarshal replaces the contents of v. A *dynamic.Value with no descriptor
// takes the codec's bound receive type.
func (c *Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *dynamic.Value:
		md := m.Descriptor()
		switch {
		case md == nil && c.recv == nil:
			return fmt.Errorf("codec: unmarshal target has no message type")
		case md == nil:
			md = c.recv
		case c.recv != nil && md.FullName() != c.recv.FullName():
			return fmt.Errorf("codec: cannot receive into %s, method returns %s", md.FullName(), c.recv.FullName())
		}
		decoded, err := c.Limits.Unmarshal(data, md)
		if err != nil {
			return err
		}
		*m = *decoded
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("codec: cannot unmarshal into %T", v)
}
