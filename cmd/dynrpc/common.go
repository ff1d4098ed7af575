package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/app"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/domain"
	apperrors "github.com/shhac/dynrpc/internal/errors"
)

// cmdRun holds the flags shared by the commands. Each command registers the
// groups it needs.
type cmdRun struct {
	subcommands.CommandRunBase

	debug bool

	protoFiles    []string
	importPaths   []string
	descriptorSet string
	reflect       bool

	addr       string
	timeout    time.Duration
	tls        bool
	skipVerify bool
	caFile     string
	certFile   string
	keyFile    string
	serverName string
}

func (r *cmdRun) registerBaseFlags() {
	r.Flags.BoolVar(&r.debug, "debug", false, "Log debug diagnostics to stderr.")
}

func (r *cmdRun) registerSchemaFlags() {
	r.Flags.Func("proto", "A .proto file to load. May be repeated.", func(s string) error {
		r.protoFiles = append(r.protoFiles, s)
		return nil
	})
	r.Flags.Func("I", "A directory to search for .proto files and their imports. May be repeated.", func(s string) error {
		r.importPaths = append(r.importPaths, s)
		return nil
	})
	r.Flags.StringVar(&r.descriptorSet, "descriptor-set", "", "A compiled FileDescriptorSet, as written by protoc -o.")
	r.Flags.BoolVar(&r.reflect, "reflect", false, "Load the schema from the server at -addr through gRPC reflection.")
}

func (r *cmdRun) registerConnFlags() {
	r.Flags.StringVar(&r.addr, "addr", "", "Server address, host:port.")
	r.Flags.DurationVar(&r.timeout, "timeout", 0, "Connect and unary call timeout. Defaults to DYNRPC_TIMEOUT or 10s.")
	r.Flags.BoolVar(&r.tls, "tls", false, "Use TLS.")
	r.Flags.BoolVar(&r.skipVerify, "insecure-skip-verify", false, "Do not verify the server certificate.")
	r.Flags.StringVar(&r.caFile, "cacert", "", "PEM file with the CA certificates to trust.")
	r.Flags.StringVar(&r.certFile, "cert", "", "PEM client certificate for mutual TLS.")
	r.Flags.StringVar(&r.keyFile, "key", "", "PEM client key for mutual TLS.")
	r.Flags.StringVar(&r.serverName, "servername", "", "Override the server name used to verify the certificate.")
}

// start builds the application components, applying flag overrides to the
// environment configuration.
func (r *cmdRun) start(a subcommands.Application) (*app.App, error) {
	cfg := *appOf(a).config
	if r.debug {
		cfg.Debug = true
	}
	if r.timeout > 0 {
		cfg.Timeout = r.timeout
	}
	return app.New(&cfg, a.GetErr())
}

func (r *cmdRun) context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func (r *cmdRun) connection() domain.Connection {
	return domain.Connection{
		Address: r.addr,
		Timeout: r.timeout,
		TLS: domain.TLSSettings{
			Enabled:        r.tls || r.skipVerify || r.caFile != "" || r.certFile != "",
			SkipVerify:     r.skipVerify,
			CAFile:         r.caFile,
			ClientCertFile: r.certFile,
			ClientKeyFile:  r.keyFile,
			ServerName:     r.serverName,
		},
	}
}

func (r *cmdRun) schemaSource() app.SchemaSource {
	return app.SchemaSource{
		ProtoFiles:    r.protoFiles,
		ImportPaths:   r.importPaths,
		DescriptorSet: r.descriptorSet,
		Reflect:       r.reflect,
	}
}

func (r *cmdRun) hasSchemaSource() bool {
	return len(r.protoFiles) > 0 || r.descriptorSet != "" || r.reflect
}

// loadSchema connects first when -addr is given, so that -reflect works.
func (r *cmdRun) loadSchema(ctx context.Context, da *app.App) (*descriptor.Set, error) {
	if r.addr != "" {
		if err := da.Connect(ctx, r.connection()); err != nil {
			return nil, err
		}
	}
	return da.LoadSchema(ctx, r.schemaSource())
}

// done prints err as a report and returns the exit code.
func (r *cmdRun) done(a subcommands.Application, err error) int {
	if err == nil {
		return apperrors.ExitOK
	}
	rep := apperrors.Classify(err)
	printReport(a.GetErr(), a.GetName(), rep)
	return rep.ExitCode
}

func printReport(w io.Writer, name string, rep *apperrors.Report) {
	fmt.Fprintf(w, "%s: %s: %s\n", name, rep.Title, rep.Message)
	if rep.Details != "" && rep.Details != rep.Message {
		for line := range strings.Lines(rep.Details) {
			fmt.Fprintf(w, "  %s", line)
		}
		fmt.Fprintln(w)
	}
	for _, step := range rep.Recovery {
		fmt.Fprintf(w, "  - %s\n", step)
	}
}

func usageError(format string, args ...any) error {
	return apperrors.ValidationError{Message: fmt.Sprintf(format, args...)}
}

// readInput returns the -d value, the file it names with @file, or stdin
// when it is empty or @-.
func readInput(a subcommands.Application, data string) ([]byte, error) {
	switch {
	case data == "" || data == "@-":
		return io.ReadAll(appOf(a).stdin)
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, apperrors.ValidationError{Field: "-d", Message: err.Error()}
		}
		return b, nil
	default:
		return []byte(data), nil
	}
}

// splitDocuments splits a stream of JSON documents, usually one per line.
func splitDocuments(b []byte) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	var docs []string
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, apperrors.ValidationError{
				Field:   "-d",
				Message: fmt.Sprintf("request %d is not valid JSON: %v", len(docs)+1, err),
			}
		}
		docs = append(docs, string(raw))
	}
}
