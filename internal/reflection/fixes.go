package reflection

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ProcessDescriptors repairs quirks seen in descriptors sent by real
// servers. The input protos are modified in place.
//   - google/protobuf files the binary already links are dropped in favor
//     of the local copies.
//   - Reserved ranges with start > end are swapped.
//   - Imports of well-known type files that a field refers to but the file
//     forgot to declare are added.
func ProcessDescriptors(files []*descriptorpb.FileDescriptorProto) []*descriptorpb.FileDescriptorProto {
	out := files[:0:0]
	for _, fd := range files {
		if isWellKnown(fd.GetName()) {
			continue
		}
		for _, m := range fd.GetMessageType() {
			fixReservedRanges(m)
		}
		fixMissingImports(fd, protoregistry.GlobalFiles)
		out = append(out, fd)
	}
	return out
}

func isWellKnown(path string) bool {
	if !strings.HasPrefix(path, "google/protobuf/") {
		return false
	}
	_, err := protoregistry.GlobalFiles.FindFileByPath(path)
	return err == nil
}

func fixReservedRanges(m *descriptorpb.DescriptorProto) {
	for _, r := range m.GetReservedRange() {
		if r.GetStart() > r.GetEnd() {
			start, end := r.GetEnd(), r.GetStart()
			r.Start, r.End = &start, &end
		}
	}
	for _, nested := range m.GetNestedType() {
		fixReservedRanges(nested)
	}
}

// fixMissingImports adds the file defining each referenced type found in
// reg to the dependency list of fd. It reports whether fd changed.
func fixMissingImports(fd *descriptorpb.FileDescriptorProto, reg *protoregistry.Files) bool {
	changed := false
	var visit func(m *descriptorpb.DescriptorProto)
	visit = func(m *descriptorpb.DescriptorProto) {
		for _, f := range m.GetField() {
			name := strings.TrimPrefix(f.GetTypeName(), ".")
			if !strings.HasPrefix(name, "google.protobuf.") {
				continue
			}
			d, err := reg.FindDescriptorByName(protoreflect.FullName(name))
			if err != nil {
				continue
			}
			path := d.ParentFile().Path()
			if path != fd.GetName() && !slices.Contains(fd.GetDependency(), path) {
				fd.Dependency = append(fd.Dependency, path)
				changed = true
			}
		}
		for _, nested := range m.GetNestedType() {
			visit(nested)
		}
	}
	for _, m := range fd.GetMessageType() {
		visit(m)
	}
	return changed
}

// buildFileDescriptors links files in dependency order, allowing references
// that cannot be resolved. Files linked into the binary are used for
// dependencies that were not sent.
func buildFileDescriptors(fdProtos []*descriptorpb.FileDescriptorProto, logger *slog.Logger) (*protoregistry.Files, error) {
	opts := protodesc.FileOptions{AllowUnresolvable: true}
	local := new(protoregistry.Files)
	resolver := &combinedResolver{local: local, global: protoregistry.GlobalFiles}

	remaining := fdProtos
	for len(remaining) > 0 {
		var next []*descriptorpb.FileDescriptorProto
		var lastErr error
		for _, fd := range remaining {
			if !depsReady(fd, resolver, remaining) {
				next = append(next, fd)
				continue
			}
			parsed, err := opts.New(fd, resolver)
			if err != nil {
				lastErr = err
				logger.Debug("lenient link failed", slog.String("file", fd.GetName()), slog.Any("error", err))
				continue
			}
			if err := local.RegisterFile(parsed); err != nil {
				logger.Debug("failed to register lenient file",
					slog.String("file", fd.GetName()),
					slog.Any("error", err),
				)
			}
		}
		if len(next) == len(remaining) {
			// A cycle or a dependency that never arrived: link the rest
			// anyway, with placeholders for what is missing.
			for _, fd := range next {
				parsed, err := opts.New(fd, resolver)
				if err != nil {
					lastErr = err
					continue
				}
				_ = local.RegisterFile(parsed)
			}
			next = nil
		}
		remaining = next
		if len(remaining) == 0 && local.NumFiles() == 0 {
			if lastErr == nil {
				lastErr = errors.New("no files")
			}
			return nil, fmt.Errorf("build file descriptors: %w", lastErr)
		}
	}
	return local, nil
}

// depsReady reports whether every dependency of fd that is still pending
// has been linked.
func depsReady(fd *descriptorpb.FileDescriptorProto, r *combinedResolver, pending []*descriptorpb.FileDescriptorProto) bool {
	for _, dep := range fd.GetDependency() {
		if _, err := r.FindFileByPath(dep); err == nil {
			continue
		}
		if slices.ContainsFunc(pending, func(p *descriptorpb.FileDescriptorProto) bool { return p.GetName() == dep }) {
			return false
		}
	}
	return true
}

// combinedResolver tries local files first, then the global registry.
type combinedResolver struct {
	local  *protoregistry.Files
	global *protoregistry.Files
}

func (r *combinedResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return r.global.FindFileByPath(path)
}

func (r *combinedResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return r.global.FindDescriptorByName(name)
}
