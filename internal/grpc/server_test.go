package grpc_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/logging"
	"github.com/shhac/dynrpc/internal/schema"
	"github.com/shhac/dynrpc/internal/textfmt"
)

func loadKitchen(t *testing.T) *descriptor.Set {
	t.Helper()
	l := schema.Loader{ImportPaths: []string{"../../testdata/proto"}}
	set, err := l.Load("kitchen/v1/kitchen.proto")
	require.NoError(t, err)
	return set
}

// serveKitchen serves svc and returns an invoker for the same schema.
func serveKitchen(t *testing.T, set *descriptor.Set, svc *dyngrpc.Service) *dyngrpc.Invoker {
	t.Helper()
	conn := serve(t, func(s *grpc.Server) {
		svc.Register(s)
		dyngrpc.RegisterReflection(s, set)
	}, dyngrpc.ServerOptions(codec.UnmarshalOptions{})...)
	return dyngrpc.NewInvoker(conn, set, logging.NewNopLogger())
}

func kitchenValue(t *testing.T, set *descriptor.Set, name, json string) *dynamic.Value {
	t.Helper()
	md, err := set.FindMessage(name)
	require.NoError(t, err)
	v, err := textfmt.Unmarshal(json, md)
	require.NoError(t, err)
	return v
}

func TestService_UnaryEcho(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	require.NoError(t, svc.HandleUnary("kitchen.v1.Kitchen/Echo", func(_ context.Context, req *dynamic.Value) (*dynamic.Value, error) {
		return req.Clone(), nil
	}))
	inv := serveKitchen(t, set, svc)

	req := kitchenValue(t, set, "kitchen.v1.Scalars",
		`{"i32": -5, "i64": "-9000000000", "s32": -3, "u64": "18446744073709551615", "text": "héllo", "blob": "AQI=", "color": "COLOR_GREEN", "real64": 2.5}`)
	resp, err := inv.InvokeUnary(t.Context(), "/kitchen.v1.Kitchen/Echo", req)
	require.NoError(t, err)
	assert.True(t, req.Equal(resp), "echo mismatch:\nsent %v\ngot  %v", req, resp)
}

func TestService_UnhandledMethodIsUnimplemented(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	require.NoError(t, svc.HandleUnary("kitchen.v1.Kitchen/Echo", func(_ context.Context, req *dynamic.Value) (*dynamic.Value, error) {
		return req, nil
	}))
	inv := serveKitchen(t, set, svc)

	var errs []error
	for _, err := range inv.Call(t.Context(), "kitchen.v1.Kitchen/Count", nil) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	// Count is server streaming and takes one request.
	assert.ErrorIs(t, errs[0], dyngrpc.ErrBadRequest)

	h, err := inv.InvokeServerStream(t.Context(), "kitchen.v1.Kitchen/Count", kitchenValue(t, set, "kitchen.v1.Number", `{"data": 1}`))
	require.NoError(t, err)
	_, err = h.Recv()
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestService_HandlerRegistrationErrors(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	unary := func(context.Context, *dynamic.Value) (*dynamic.Value, error) { return nil, nil }
	stream := func(*dyngrpc.HandlerStream) error { return nil }

	assert.ErrorIs(t, svc.HandleUnary("kitchen.v1.Kitchen/Nope", unary), dyngrpc.ErrUnknownMethod)
	assert.ErrorIs(t, svc.HandleStream("kitchen.v1.Nope/Count", stream), dyngrpc.ErrUnknownMethod)
	assert.ErrorIs(t, svc.HandleUnary("kitchen.v1.Kitchen/Count", unary), dyngrpc.ErrWrongShape)
	assert.ErrorIs(t, svc.HandleStream("kitchen.v1.Kitchen/Echo", stream), dyngrpc.ErrWrongShape)
}

func TestService_RegistersOnlyHandledServices(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	s := grpc.NewServer(dyngrpc.ServerOptions(codec.UnmarshalOptions{})...)
	svc.Register(s)
	assert.NotContains(t, s.GetServiceInfo(), "kitchen.v1.Kitchen")

	require.NoError(t, svc.HandleStream("kitchen.v1.Kitchen/Sum", func(*dyngrpc.HandlerStream) error { return nil }))
	s = grpc.NewServer(dyngrpc.ServerOptions(codec.UnmarshalOptions{})...)
	svc.Register(s)
	info, ok := s.GetServiceInfo()["kitchen.v1.Kitchen"]
	require.True(t, ok)
	assert.Len(t, info.Methods, 4)
	assert.Equal(t, "kitchen/v1/kitchen.proto", info.Metadata)
}

func TestService_WrongResponseTypeIsInternal(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	require.NoError(t, svc.HandleUnary("kitchen.v1.Kitchen/Echo", func(context.Context, *dynamic.Value) (*dynamic.Value, error) {
		return kitchenValue(t, set, "kitchen.v1.Number", `{}`), nil
	}))
	inv := serveKitchen(t, set, svc)

	_, err := inv.InvokeUnary(t.Context(), "kitchen.v1.Kitchen/Echo", kitchenValue(t, set, "kitchen.v1.Scalars", `{}`))
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestService_HandlerErrorsPassThrough(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	require.NoError(t, svc.HandleUnary("kitchen.v1.Kitchen/Echo", func(context.Context, *dynamic.Value) (*dynamic.Value, error) {
		return nil, status.Error(codes.FailedPrecondition, "oven is cold")
	}))
	inv := serveKitchen(t, set, svc)

	_, err := inv.InvokeUnary(t.Context(), "kitchen.v1.Kitchen/Echo", kitchenValue(t, set, "kitchen.v1.Scalars", `{}`))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "oven is cold", st.Message())
}

func TestService_BreakCancelsServerHandler(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	cancelled := make(chan struct{})
	require.NoError(t, svc.HandleStream("kitchen.v1.Kitchen/Count", func(s *dyngrpc.HandlerStream) error {
		if _, err := s.Recv(); err != nil {
			return err
		}
		one := dynamic.New(s.Method().Output())
		for {
			if err := s.Send(one); err != nil {
				close(cancelled)
				return err
			}
			if s.Context().Err() != nil {
				close(cancelled)
				return s.Context().Err()
			}
		}
	}))
	inv := serveKitchen(t, set, svc)

	n := 0
	for _, err := range inv.Call(t.Context(), "kitchen.v1.Kitchen/Count", numbersIn(t, set, 1)) {
		require.NoError(t, err)
		if n++; n == 3 {
			break
		}
	}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("server handler still running after the client stopped reading")
	}
}

func TestService_ClientAndBidiStreams(t *testing.T) {
	set := loadKitchen(t)
	svc := dyngrpc.NewService(set, logging.NewNopLogger())
	require.NoError(t, svc.HandleStream("kitchen.v1.Kitchen/Sum", func(s *dyngrpc.HandlerStream) error {
		var total int32
		for {
			req, err := s.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			x, _ := req.Get("data")
			total += x.(int32)
		}
		resp := dynamic.New(s.Method().Output())
		if err := resp.Set("data", total); err != nil {
			return err
		}
		return s.Send(resp)
	}))
	require.NoError(t, svc.HandleStream("kitchen.v1.Kitchen/Chat", func(s *dyngrpc.HandlerStream) error {
		for {
			req, err := s.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.Send(req); err != nil {
				return err
			}
		}
	}))
	inv := serveKitchen(t, set, svc)

	var sums []*dynamic.Value
	for resp, err := range inv.Call(t.Context(), "kitchen.v1.Kitchen/Sum", numbersIn(t, set, 4, 5, 6)) {
		require.NoError(t, err)
		sums = append(sums, resp)
	}
	require.Len(t, sums, 1)
	assert.True(t, kitchenValue(t, set, "kitchen.v1.Number", `{"data": 15}`).Equal(sums[0]))

	sent := []*dynamic.Value{
		kitchenValue(t, set, "kitchen.v1.Nested", `{"word": "a", "counts": {"x": 1}}`),
		kitchenValue(t, set, "kitchen.v1.Nested", `{"node": {"label": "b"}, "maybe": 0}`),
		kitchenValue(t, set, "kitchen.v1.Nested", `{"byId": {"7": {"weight": 3}}, "child": {"number": "12"}}`),
	}
	var got []*dynamic.Value
	for resp, err := range inv.Call(t.Context(), "kitchen.v1.Kitchen/Chat", sliceSeq(sent)) {
		require.NoError(t, err)
		got = append(got, resp)
	}
	require.Len(t, got, len(sent))
	for i := range sent {
		assert.True(t, sent[i].Equal(got[i]), "message %d: sent %v got %v", i, sent[i], got[i])
	}
}

func TestServer_HealthUsesGeneratedMessages(t *testing.T) {
	resp, err := healthpb.NewHealthClient(testConn).Check(t.Context(), &healthpb.HealthCheckRequest{Service: "helloworld.Greeter"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func numbersIn(t *testing.T, set *descriptor.Set, ns ...int32) func(func(*dynamic.Value) bool) {
	md, err := set.FindMessage("kitchen.v1.Number")
	require.NoError(t, err)
	vs := make([]*dynamic.Value, len(ns))
	for i, n := range ns {
		vs[i] = dynamic.New(md)
		require.NoError(t, vs[i].Set("data", n))
	}
	return sliceSeq(vs)
}

func sliceSeq(vs []*dynamic.Value) func(func(*dynamic.Value) bool) {
	return func(yield func(*dynamic.Value) bool) {
		for _, v := range vs {
			if !yield(v) {
				return
			}
		}
	}
}
