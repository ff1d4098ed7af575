// Package schema turns protobuf schema source into a descriptor.Set.
package schema

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/shhac/dynrpc/internal/descriptor"
)

// Loader parses .proto files with an embedded parser. The zero value reads
// files relative to the working directory.
type Loader struct {
	// ImportPaths are searched, in order, for the files to load and for
	// their imports. The google/protobuf/*.proto files are always available.
	ImportPaths []string
	// Sources maps file names to in-memory contents. They shadow files on
	// disk with the same name.
	Sources map[string]string
	Logger  *slog.Logger
}

// Load parses, links and indexes the named files.
func (l *Loader) Load(paths ...string) (*descriptor.Set, error) {
	if len(paths) == 0 {
		return nil, &LoadError{Reason: IOError, Err: errors.New("no schema files given")}
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	importPaths := append([]string(nil), l.ImportPaths...)
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		name, dir, err := l.locate(p)
		if err != nil {
			return nil, err
		}
		if dir != "" {
			if len(importPaths) == 0 {
				importPaths = append(importPaths, ".")
			}
			importPaths = appendUnique(importPaths, dir)
		}
		names = append(names, name)
	}

	parser := protoparse.Parser{
		ImportPaths: importPaths,
		Accessor:    l.accessor(importPaths),
	}

	// A parse-only pass first so that syntax problems are told apart from
	// linking problems.
	if _, err := parser.ParseFilesButDoNotLink(names...); err != nil {
		logger.Debug("schema parse failed", slog.Any("files", names), slog.Any("error", err))
		reason := SyntaxError
		if errors.Is(err, fs.ErrNotExist) {
			reason = IOError
		}
		return nil, newLoadError(reason, names, err)
	}

	fds, err := parser.ParseFiles(names...)
	if err != nil {
		logger.Debug("schema link failed", slog.Any("files", names), slog.Any("error", err))
		reason := TypeCheckError
		if errors.Is(err, fs.ErrNotExist) {
			reason = IOError
		}
		return nil, newLoadError(reason, names, err)
	}

	files := make([]protoreflect.FileDescriptor, 0, len(fds))
	for _, fd := range fds {
		files = append(files, fd.UnwrapFile())
	}
	set, err := descriptor.NewSet(files...)
	if err != nil {
		return nil, &LoadError{Reason: TypeCheckError, Err: err}
	}

	logger.Debug("schema loaded",
		slog.Any("files", names),
		slog.Int("services", len(set.Services())),
		slog.Int("messages", len(set.Messages())),
	)
	return set, nil
}

// locate checks that p can be read and returns the name to hand to the
// parser, plus a directory to add to the import paths when p is absolute.
func (l *Loader) locate(p string) (name, dir string, err error) {
	if _, ok := l.Sources[p]; ok {
		return p, "", nil
	}
	if filepath.IsAbs(p) {
		if _, err := os.Stat(p); err != nil {
			return "", "", &LoadError{Reason: IOError, File: p, Err: err}
		}
		return filepath.Base(p), filepath.Dir(p), nil
	}
	if len(l.ImportPaths) == 0 {
		if _, err := os.Stat(p); err != nil {
			return "", "", &LoadError{Reason: IOError, File: p, Err: err}
		}
		return p, "", nil
	}
	for _, ip := range l.ImportPaths {
		if _, err := os.Stat(filepath.Join(ip, p)); err == nil {
			return p, "", nil
		}
	}
	return "", "", &LoadError{
		Reason: IOError,
		File:   p,
		Err:    fmt.Errorf("not found in import paths %s: %w", strings.Join(l.ImportPaths, string(os.PathListSeparator)), fs.ErrNotExist),
	}
}

// accessor serves Sources ahead of the filesystem. When linking, the parser
// joins import paths onto names before asking, so those prefixes are stripped
// again. The parse-only pass asks with bare names, so relative names are
// searched for in each import path before the working directory.
func (l *Loader) accessor(importPaths []string) protoparse.FileAccessor {
	return func(filename string) (io.ReadCloser, error) {
		if src, ok := l.lookupSource(filename, importPaths); ok {
			return io.NopCloser(strings.NewReader(src)), nil
		}
		if !filepath.IsAbs(filename) {
			for _, ip := range importPaths {
				f, err := os.Open(filepath.Join(ip, filename))
				if err == nil {
					return f, nil
				}
				if !errors.Is(err, fs.ErrNotExist) {
					return nil, err
				}
			}
		}
		return os.Open(filename)
	}
}

func (l *Loader) lookupSource(filename string, importPaths []string) (string, bool) {
	if len(l.Sources) == 0 {
		return "", false
	}
	if src, ok := l.Sources[filepath.ToSlash(filename)]; ok {
		return src, true
	}
	for _, ip := range importPaths {
		rel, err := filepath.Rel(ip, filename)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if src, ok := l.Sources[filepath.ToSlash(rel)]; ok {
			return src, true
		}
	}
	return "", false
}

// LoadDescriptorSet indexes a serialized FileDescriptorSet, as written by
// protoc -o. The set must carry every import (--include_imports).
func LoadDescriptorSet(data []byte) (*descriptor.Set, error) {
	var fdset descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fdset); err != nil {
		return nil, &LoadError{Reason: SyntaxError, Err: fmt.Errorf("decode descriptor set: %w", err)}
	}
	reg, err := protodesc.NewFiles(&fdset)
	if err != nil {
		return nil, &LoadError{Reason: TypeCheckError, Err: err}
	}

	files := make([]protoreflect.FileDescriptor, 0, len(fdset.GetFile()))
	for _, fdp := range fdset.GetFile() {
		fd, err := reg.FindFileByPath(fdp.GetName())
		if err != nil {
			return nil, &LoadError{Reason: TypeCheckError, File: fdp.GetName(), Err: err}
		}
		files = append(files, fd)
	}
	set, err := descriptor.NewSet(files...)
	if err != nil {
		return nil, &LoadError{Reason: TypeCheckError, Err: err}
	}
	return set, nil
}

// LoadDescriptorSetFile reads and indexes a FileDescriptorSet from disk.
func LoadDescriptorSetFile(path string) (*descriptor.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Reason: IOError, File: path, Err: err}
	}
	set, err := LoadDescriptorSet(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) && le.File == "" {
			le.File = path
		}
		return nil, err
	}
	return set, nil
}

func newLoadError(reason Reason, names []string, err error) *LoadError {
	le := &LoadError{Reason: reason, Err: err}
	var pe protoparse.ErrorWithPos
	if errors.As(err, &pe) {
		le.File = pe.GetPosition().Filename
	} else if len(names) == 1 {
		le.File = names[0]
	}
	return le
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
