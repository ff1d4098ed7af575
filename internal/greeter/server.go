package greeter

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/shhac/dynrpc/internal/codec"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
)

// NewServer returns a grpc.Server serving the Greeter together with server
// reflection and the health service. Extra options are appended to the
// ones dynamic values need.
func NewServer(logger *slog.Logger, limits codec.UnmarshalOptions, opts ...grpc.ServerOption) (*grpc.Server, error) {
	set, err := Schema()
	if err != nil {
		return nil, err
	}
	g, err := New(set, logger)
	if err != nil {
		return nil, err
	}
	svc := dyngrpc.NewService(set, logger)
	if err := g.Install(svc); err != nil {
		return nil, err
	}

	s := grpc.NewServer(append(dyngrpc.ServerOptions(limits), opts...)...)
	svc.Register(s)
	dyngrpc.RegisterReflection(s, set)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, nil
}
