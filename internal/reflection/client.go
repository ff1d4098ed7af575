// Package reflection builds a descriptor.Set from a live server through
// gRPC server reflection.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/domain"
)

var (
	// ErrUnavailable is returned when the server does not serve reflection.
	ErrUnavailable = errors.New("server reflection unavailable")
	// ErrNoServices is returned when reflection lists no usable service.
	ErrNoServices = errors.New("no services resolved through reflection")
)

var reflectionServices = map[string]bool{
	"grpc.reflection.v1.ServerReflection":      true,
	"grpc.reflection.v1alpha.ServerReflection": true,
}

// Client wraps gRPC reflection with permissive resolution. It detects v1 or
// v1alpha reflection and copes with servers that send incomplete or
// malformed descriptors.
type Client struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

func NewClient(conn *grpc.ClientConn, logger *slog.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// LoadSet discovers every service of the server and links the files that
// define them into a Set. Services that cannot be resolved are logged and
// left out; if none can be resolved the result is ErrNoServices.
func (c *Client) LoadSet(ctx context.Context) (*descriptor.Set, error) {
	rc := grpcreflect.NewClientAuto(ctx, c.conn)
	defer rc.Reset()
	rc.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)
	rc.AllowMissingFileDescriptors()

	names, err := rc.ListServices()
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("list services: %w", err)
	}

	files := newFileList()
	var failed []string
	for _, name := range names {
		if reflectionServices[name] {
			c.logger.Debug("skipping reflection service", slog.String("service", name))
			continue
		}
		fd, err := rc.FileContainingSymbol(name)
		if err != nil {
			c.logger.Warn("standard resolution failed, trying lenient resolve",
				slog.String("service", name),
				slog.Any("error", err),
			)
			failed = append(failed, name)
			continue
		}
		files.add(fd.UnwrapFile())
	}

	for _, name := range failed {
		fd, err := c.lenientResolve(ctx, name)
		if err != nil {
			c.logger.Warn("lenient resolution also failed",
				slog.String("service", name),
				slog.Any("error", err),
			)
			continue
		}
		files.add(fd)
	}

	if len(files.list) == 0 {
		return nil, ErrNoServices
	}
	set, err := descriptor.NewSet(files.list...)
	if err != nil {
		return nil, fmt.Errorf("link reflected schema: %w", err)
	}
	c.logger.Debug("discovered services via reflection",
		slog.Int("services", len(set.Services())),
		slog.Int("listed", len(names)),
	)
	return set, nil
}

// ListServices summarizes the services LoadSet resolves.
func (c *Client) ListServices(ctx context.Context) ([]domain.Service, error) {
	set, err := c.LoadSet(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Services(set), nil
}

// fileList keeps files unique by path, in first-seen order.
type fileList struct {
	seen map[string]bool
	list []protoreflect.FileDescriptor
}

func newFileList() *fileList {
	return &fileList{seen: make(map[string]bool)}
}

func (l *fileList) add(fd protoreflect.FileDescriptor) {
	if l.seen[fd.Path()] {
		return
	}
	l.seen[fd.Path()] = true
	l.list = append(l.list, fd)
}
