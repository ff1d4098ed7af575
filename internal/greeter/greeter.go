// Package greeter is a demo service implemented on dynamic values. It is
// served by "dynrpc serve" and by the in-process servers used in tests.
package greeter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/schema"
)

// ProtoFile is the name the embedded schema is loaded under.
const ProtoFile = "helloworld.proto"

// ServiceName is the full name of the Greeter service.
const ServiceName = "helloworld.Greeter"

// Method paths of the Greeter service.
const (
	SayHello   = "/helloworld.Greeter/SayHello"
	GetOnes    = "/helloworld.Greeter/GetOnes"
	CalcSum    = "/helloworld.Greeter/CalcSum"
	GetDoubles = "/helloworld.Greeter/GetDoubles"
)

// PSKey is the request metadata key SayHello looks for.
const PSKey = "p.s."

//go:embed helloworld.proto
var source string

// Source returns the embedded schema text.
func Source() string { return source }

// Schema parses the embedded schema.
func Schema() (*descriptor.Set, error) {
	l := schema.Loader{Sources: map[string]string{ProtoFile: source}}
	return l.Load(ProtoFile)
}

// Greeter implements helloworld.Greeter.
type Greeter struct {
	reply  *descriptor.MessageDescriptor
	number *descriptor.MessageDescriptor
	logger *slog.Logger
}

// New looks up the Greeter message types in set, which must contain the
// embedded schema.
func New(set *descriptor.Set, logger *slog.Logger) (*Greeter, error) {
	reply, err := set.FindMessage("helloworld.HelloReply")
	if err != nil {
		return nil, err
	}
	number, err := set.FindMessage("helloworld.Number")
	if err != nil {
		return nil, err
	}
	return &Greeter{reply: reply, number: number, logger: logger}, nil
}

// Install registers every Greeter handler on svc.
func (g *Greeter) Install(svc *dyngrpc.Service) error {
	return errors.Join(
		svc.HandleUnary(SayHello, g.SayHello),
		svc.HandleStream(GetOnes, g.GetOnes),
		svc.HandleStream(CalcSum, g.CalcSum),
		svc.HandleStream(GetDoubles, g.GetDoubles),
	)
}

// SayHello replies "Hello <name>" and sends a "resp: reply" header. A call
// that carries no metadata at all fails with DataLoss.
func (g *Greeter) SayHello(ctx context.Context, req *dynamic.Value) (*dynamic.Value, error) {
	name, err := req.Get("name")
	if err != nil {
		return nil, err
	}
	g.logger.Info("received", slog.String("method", "SayHello"), slog.Any("name", name))
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.DataLoss, "missing metadata")
	}
	if ps := md.Get(PSKey); len(ps) > 0 {
		g.logger.Info("here's a p.s.", slog.Any("p.s.", ps))
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs("resp", "reply")); err != nil {
		return nil, err
	}

	reply := dynamic.New(g.reply)
	if err := reply.Set("message", fmt.Sprintf("Hello %s", name)); err != nil {
		return nil, err
	}
	return reply, nil
}

// GetOnes streams n copies of Number{1}, stopping early when the client
// goes away.
func (g *Greeter) GetOnes(stream *dyngrpc.HandlerStream) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	n, err := g.data(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Send(g.num(1)); err != nil {
			return err
		}
	}
	return nil
}

// CalcSum adds up the client stream and replies with the total.
func (g *Greeter) CalcSum(stream *dyngrpc.HandlerStream) error {
	var sum int32
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n, err := g.data(req)
		if err != nil {
			return err
		}
		sum += n
	}
	return stream.Send(g.num(sum))
}

// GetDoubles answers each Number{n} with n copies of Number{2}. Replies
// keep the order of the requests they answer.
func (g *Greeter) GetDoubles(stream *dyngrpc.HandlerStream) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := g.data(req)
		if err != nil {
			return err
		}
		g.logger.Debug("received", slog.String("method", "GetDoubles"), slog.Int("data", int(n)))
		for range n {
			if err := stream.Send(g.num(2)); err != nil {
				return err
			}
		}
	}
}

func (g *Greeter) data(v *dynamic.Value) (int32, error) {
	x, err := v.Get("data")
	if err != nil {
		return 0, err
	}
	return x.(int32), nil
}

func (g *Greeter) num(n int32) *dynamic.Value {
	v := dynamic.New(g.number)
	if n != 0 {
		// Set cannot fail: the field exists and n has its type.
		_ = v.Set("data", n)
	}
	return v
}
