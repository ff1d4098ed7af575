package reflection_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/dynamic"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/greeter"
	"github.com/shhac/dynrpc/internal/logging"
	"github.com/shhac/dynrpc/internal/reflection"
)

func dial(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func greeterConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	s, err := greeter.NewServer(logging.NewNopLogger(), codec.UnmarshalOptions{})
	require.NoError(t, err)
	return dial(t, s)
}

func TestLoadSet(t *testing.T) {
	c := reflection.NewClient(greeterConn(t), logging.NewNopLogger())
	set, err := c.LoadSet(t.Context())
	require.NoError(t, err)

	var names []string
	for _, svc := range set.Services() {
		names = append(names, svc.FullName())
	}
	assert.ElementsMatch(t, []string{"helloworld.Greeter", "grpc.health.v1.Health"}, names)

	md, err := set.FindMethod("/helloworld.Greeter/GetDoubles")
	require.NoError(t, err)
	assert.True(t, md.Shape().ClientStreams())
	assert.True(t, md.Shape().ServerStreams())
	assert.Equal(t, "helloworld.Number", md.Input().FullName())
}

func TestLoadSet_ReflectedSchemaCanInvoke(t *testing.T) {
	conn := greeterConn(t)
	set, err := reflection.NewClient(conn, logging.NewNopLogger()).LoadSet(t.Context())
	require.NoError(t, err)

	md, err := set.FindMessage("helloworld.HelloRequest")
	require.NoError(t, err)
	req := dynamic.New(md)
	require.NoError(t, req.Set("name", "reflection"))

	resp, err := dyngrpc.NewInvoker(conn, set, logging.NewNopLogger()).InvokeUnary(t.Context(), greeter.SayHello, req)
	require.NoError(t, err)
	msg, err := resp.Get("message")
	require.NoError(t, err)
	assert.Equal(t, "Hello reflection", msg)
}

func TestListServices(t *testing.T) {
	services, err := reflection.NewClient(greeterConn(t), logging.NewNopLogger()).ListServices(t.Context())
	require.NoError(t, err)

	var found bool
	for _, svc := range services {
		assert.NotContains(t, svc.FullName, "ServerReflection")
		if svc.FullName != "helloworld.Greeter" {
			continue
		}
		found = true
		require.Len(t, svc.Methods, 4)
		shapes := map[string]string{}
		for _, m := range svc.Methods {
			shapes[m.Name] = m.Shape
		}
		assert.Equal(t, map[string]string{
			"SayHello":   "unary",
			"GetOnes":    "server-streaming",
			"CalcSum":    "client-streaming",
			"GetDoubles": "bidi-streaming",
		}, shapes)
	}
	assert.True(t, found, "Greeter not listed: %+v", services)
}

func TestLoadSet_ReflectionUnavailable(t *testing.T) {
	c := reflection.NewClient(dial(t, grpc.NewServer()), logging.NewNopLogger())
	_, err := c.LoadSet(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, reflection.ErrUnavailable)
}
