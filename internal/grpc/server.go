package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	v1reflectiongrpc "google.golang.org/grpc/reflection/grpc_reflection_v1"
	v1alphareflectiongrpc "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// UnaryFunc handles one unary call.
type UnaryFunc func(ctx context.Context, req *dynamic.Value) (*dynamic.Value, error)

// StreamFunc handles one streaming call of any streaming shape.
type StreamFunc func(stream *HandlerStream) error

// Service serves the methods of a descriptor.Set with handlers written
// against dynamic values. Methods without a handler answer Unimplemented.
type Service struct {
	set    *descriptor.Set
	logger *slog.Logger

	mu      sync.RWMutex
	unary   map[string]UnaryFunc
	streams map[string]StreamFunc
}

// NewService returns a service with no handlers.
func NewService(set *descriptor.Set, logger *slog.Logger) *Service {
	return &Service{
		set:     set,
		logger:  logger,
		unary:   make(map[string]UnaryFunc),
		streams: make(map[string]StreamFunc),
	}
}

// HandleUnary installs fn for the unary method at path.
func (s *Service) HandleUnary(path string, fn UnaryFunc) error {
	md, err := s.resolve(path, func(sh descriptor.StreamingShape) bool { return sh == descriptor.Unary })
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unary[md.Path()] = fn
	return nil
}

// HandleStream installs fn for the streaming method at path.
func (s *Service) HandleStream(path string, fn StreamFunc) error {
	md, err := s.resolve(path, func(sh descriptor.StreamingShape) bool { return sh != descriptor.Unary })
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[md.Path()] = fn
	return nil
}

func (s *Service) resolve(path string, ok func(descriptor.StreamingShape) bool) (*descriptor.MethodDescriptor, error) {
	md, err := s.set.FindMethod(path)
	if err != nil {
		return nil, &InvokeError{Reason: UnknownMethod, Method: path, Err: err}
	}
	if !ok(md.Shape()) {
		return nil, &InvokeError{
			Reason: WrongShape,
			Method: md.FullName(),
			Err:    fmt.Errorf("handler does not fit a %s method", md.Shape()),
		}
	}
	return md, nil
}

// Register adds every service of the set that has at least one handler.
// The server must use ServerOptions so that dynamic values can be decoded.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.set.Services() {
		if !s.handlesAny(svc) {
			continue
		}
		r.RegisterService(s.serviceDesc(svc), s)
		s.logger.Debug("registered dynamic service", slog.String("service", svc.FullName()))
	}
}

func (s *Service) handlesAny(svc *descriptor.ServiceDescriptor) bool {
	for _, m := range svc.Methods() {
		if s.unary[m.Path()] != nil || s.streams[m.Path()] != nil {
			return true
		}
	}
	return false
}

func (s *Service) serviceDesc(svc *descriptor.ServiceDescriptor) *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*any)(nil),
		Metadata:    svc.File(),
	}
	for _, m := range svc.Methods() {
		if m.Shape() == descriptor.Unary {
			sd.Methods = append(sd.Methods, grpc.MethodDesc{
				MethodName: m.Name(),
				Handler:    s.unaryHandler(m),
			})
			continue
		}
		sd.Streams = append(sd.Streams, grpc.StreamDesc{
			StreamName:    m.Name(),
			Handler:       s.streamHandler(m),
			ServerStreams: m.Shape().ServerStreams(),
			ClientStreams: m.Shape().ClientStreams(),
		})
	}
	return sd
}

func (s *Service) unaryHandler(m *descriptor.MethodDescriptor) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s.mu.RLock()
		fn := s.unary[m.Path()]
		s.mu.RUnlock()
		if fn == nil {
			return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", m.FullName())
		}

		req := dynamic.New(m.Input())
		if err := dec(req); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := fn(ctx, req.(*dynamic.Value))
			if err != nil {
				return nil, err
			}
			if err := checkResponse(m, resp); err != nil {
				s.logger.Error("handler returned a bad response",
					slog.String("method", m.FullName()),
					slog.Any("error", err),
				)
				return nil, err
			}
			return resp, nil
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: m.Path()}
		return interceptor(ctx, req, info, handler)
	}
}

func (s *Service) streamHandler(m *descriptor.MethodDescriptor) grpc.StreamHandler {
	return func(_ any, ss grpc.ServerStream) error {
		s.mu.RLock()
		fn := s.streams[m.Path()]
		s.mu.RUnlock()
		if fn == nil {
			return status.Errorf(codes.Unimplemented, "method %s not implemented", m.FullName())
		}
		return fn(&HandlerStream{ServerStream: ss, method: m})
	}
}

func checkResponse(m *descriptor.MethodDescriptor, resp *dynamic.Value) error {
	if resp == nil || resp.Descriptor() == nil {
		return status.Errorf(codes.Internal, "%s: handler returned no response", m.FullName())
	}
	if resp.Descriptor().FullName() != m.Output().FullName() {
		return status.Errorf(codes.Internal, "%s: handler returned %s, want %s",
			m.FullName(), resp.Descriptor().FullName(), m.Output().FullName())
	}
	return nil
}

// HandlerStream is the server side of a streaming call.
type HandlerStream struct {
	grpc.ServerStream
	method *descriptor.MethodDescriptor
}

// Method returns the method being served.
func (h *HandlerStream) Method() *descriptor.MethodDescriptor { return h.method }

// Recv returns the next request, or io.EOF once the client has half-closed.
func (h *HandlerStream) Recv() (*dynamic.Value, error) {
	req := dynamic.New(h.method.Input())
	if err := h.RecvMsg(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Send writes one response. It must not be called from more than one
// goroutine at a time.
func (h *HandlerStream) Send(resp *dynamic.Value) error {
	if err := checkResponse(h.method, resp); err != nil {
		return err
	}
	return h.SendMsg(resp)
}

// ServerOptions returns the options a grpc.Server needs to carry dynamic
// values. Generated messages such as health checks still work.
func ServerOptions(limits codec.UnmarshalOptions) []grpc.ServerOption {
	c := codec.NewValueCodec()
	c.Limits = limits
	return []grpc.ServerOption{grpc.ForceServerCodec(c)}
}

// RegisterReflection serves the schema of set, plus anything linked into
// the binary, through gRPC server reflection v1 and v1alpha.
func RegisterReflection(s *grpc.Server, set *descriptor.Set) {
	opts := reflection.ServerOptions{
		Services:           s,
		DescriptorResolver: filesResolver{set.Files()},
	}
	svr := reflection.NewServerV1(opts)
	v1reflectiongrpc.RegisterServerReflectionServer(s, svr)
	v1alphareflectiongrpc.RegisterServerReflectionServer(s, reflection.NewServer(opts))
}

// filesResolver looks in the loaded schema first and then in the files
// linked into the binary, so health and reflection are described too.
type filesResolver struct {
	local *protoregistry.Files
}

func (r filesResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r filesResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}
