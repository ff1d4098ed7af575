package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// lenientResolve talks the raw reflection protocol, repairs the returned
// descriptors and links them with unresolvable references allowed. It
// returns the file declaring service.
func (c *Client) lenientResolve(ctx context.Context, service string) (protoreflect.FileDescriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(c.conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reflection stream: %w", err)
	}
	defer stream.CloseSend()

	ask := func(req *reflectionpb.ServerReflectionRequest) ([]*descriptorpb.FileDescriptorProto, error) {
		if err := stream.Send(req); err != nil {
			return nil, fmt.Errorf("send reflection request: %w", err)
		}
		resp, err := stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("receive reflection response: %w", err)
		}
		fdResp := resp.GetFileDescriptorResponse()
		if fdResp == nil {
			if e := resp.GetErrorResponse(); e != nil {
				return nil, fmt.Errorf("reflection error: %s", e.GetErrorMessage())
			}
			return nil, errors.New("unexpected reflection response type")
		}
		var out []*descriptorpb.FileDescriptorProto
		for _, raw := range fdResp.GetFileDescriptorProto() {
			fd := &descriptorpb.FileDescriptorProto{}
			if err := proto.Unmarshal(raw, fd); err != nil {
				c.logger.Warn("skipping undecodable file descriptor", slog.Any("error", err))
				continue
			}
			out = append(out, fd)
		}
		return out, nil
	}

	fdProtos, err := ask(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: service,
		},
	})
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool)
	for _, fd := range fdProtos {
		have[fd.GetName()] = true
	}
	// Fetch dependencies that were neither sent nor linked into the binary.
	asked := make(map[string]bool)
	for i := 0; i < len(fdProtos); i++ {
		for _, dep := range fdProtos[i].GetDependency() {
			if have[dep] || asked[dep] {
				continue
			}
			asked[dep] = true
			if _, err := protoregistry.GlobalFiles.FindFileByPath(dep); err == nil {
				continue
			}
			more, err := ask(&reflectionpb.ServerReflectionRequest{
				MessageRequest: &reflectionpb.ServerReflectionRequest_FileByFilename{FileByFilename: dep},
			})
			if err != nil {
				c.logger.Debug("dependency unavailable", slog.String("dep", dep), slog.Any("error", err))
				continue
			}
			for _, fd := range more {
				if !have[fd.GetName()] {
					have[fd.GetName()] = true
					fdProtos = append(fdProtos, fd)
				}
			}
		}
	}

	files, err := buildFileDescriptors(ProcessDescriptors(fdProtos), c.logger)
	if err != nil {
		return nil, err
	}
	var found protoreflect.FileDescriptor
	name := protoreflect.FullName(service)
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if fd.Package() == name.Parent() && fd.Services().ByName(name.Name()) != nil {
			found = fd
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("service %s not found after lenient parsing", service)
	}
	return found, nil
}
