package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/maruel/subcommands"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shhac/dynrpc/internal/app"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/domain"
	"github.com/shhac/dynrpc/internal/dynamic"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/textfmt"
)

var cmdCall = &subcommands.Command{
	UsageLine: "call [flags] <method>",
	ShortDesc: "calls a method and prints the responses as JSON lines",
	LongDesc: `Calls a method of any streaming shape.

The method is "/pkg.Service/Method", "pkg.Service/Method" or
"pkg.Service.Method". Requests are JSON documents taken from -d, from the
file named by -d @file, or from stdin. Client and bidi streaming methods
take any number of documents, usually one per line.`,
	CommandRun: func() subcommands.CommandRun {
		r := &callRun{}
		r.registerBaseFlags()
		r.registerSchemaFlags()
		r.registerConnFlags()
		r.Flags.StringVar(&r.data, "d", "", "Request JSON, @file, or @- for stdin. Defaults to stdin.")
		r.Flags.Func("H", "Request metadata as key:value. May be repeated.", func(s string) error {
			k, v, ok := strings.Cut(s, ":")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("want key:value, got %q", s)
			}
			r.headers = append(r.headers, strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v))
			return nil
		})
		r.Flags.DurationVar(&r.interval, "interval", 0, "Minimum time between stream requests.")
		r.Flags.BoolVar(&r.verbose, "v", false, "Print response headers and trailers to stderr.")
		r.Flags.BoolVar(&r.pretty, "pretty", false, "Indent the JSON responses.")
		r.Flags.BoolVar(&r.noHistory, "no-history", false, "Do not record the call in the history.")
		return r
	},
}

type callRun struct {
	cmdRun

	data      string
	headers   []string
	interval  time.Duration
	verbose   bool
	pretty    bool
	noHistory bool
}

func (r *callRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return r.done(a, usageError("call takes exactly one method, got %d arguments", len(args)))
	}
	if r.addr == "" {
		return r.done(a, usageError("call needs a server address (-addr)"))
	}

	ctx, cancel := r.context()
	defer cancel()

	da, err := r.start(a)
	if err != nil {
		return r.done(a, err)
	}
	defer da.Close()

	input, err := readInput(a, r.data)
	if err != nil {
		return r.done(a, err)
	}
	docs, err := splitDocuments(input)
	if err != nil {
		return r.done(a, err)
	}
	set, err := r.loadSchema(ctx, da)
	if err != nil {
		return r.done(a, err)
	}

	return r.done(a, invoke(ctx, da, set, invocation{
		Connection: r.connection(),
		Method:     args[0],
		Docs:       docs,
		Headers:    r.headers,
		Interval:   r.interval,
		Verbose:    r.verbose,
		Pretty:     r.pretty,
		Record:     !r.noHistory,
	}, a.GetOut(), a.GetErr()))
}

// invocation is one call as the user described it, before the schema is
// applied.
type invocation struct {
	Connection domain.Connection
	Method     string
	Docs       []string
	Headers    []string // key, value pairs
	Interval   time.Duration
	Verbose    bool
	Pretty     bool
	Record     bool
}

// invoke runs inv over the managed connection, printing responses to stdout
// as they arrive. Every request is parsed before anything is sent.
func invoke(ctx context.Context, da *app.App, set *descriptor.Set, inv invocation, stdout, stderr io.Writer) error {
	invoker := dyngrpc.NewInvoker(da.ConnManager().Conn(), set, da.Logger(), dyngrpc.WithLimits(da.Config().Limits()))
	md, err := invoker.Resolve(inv.Method)
	if err != nil {
		return err
	}

	docs := inv.Docs
	if len(docs) == 0 && !md.Shape().ClientStreams() {
		docs = []string{"{}"}
	}
	parse := textfmt.UnmarshalOptions{Set: set}
	reqs := make([]*dynamic.Value, 0, len(docs))
	for i, doc := range docs {
		v, err := parse.Unmarshal(doc, md.Input())
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		reqs = append(reqs, v)
	}

	if md.Shape() == descriptor.Unary && da.Config().Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, da.Config().Timeout)
		defer cancel()
	}
	if len(inv.Headers) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, inv.Headers...)
	}

	entry := domain.HistoryEntry{
		Connection: inv.Connection,
		Method:     md.Path(),
		Shape:      md.Shape().String(),
		Requests:   docs,
		Metadata:   domain.Metadata{Request: pairsToMap(inv.Headers)},
	}
	out := textfmt.MarshalOptions{Set: set}
	if inv.Pretty {
		out.Indent = "  "
	}

	var header, trailer metadata.MD
	start := time.Now()
	var callErr error
	for resp, err := range invoker.Call(ctx, md.Path(), paced(ctx, reqs, inv.Interval), grpc.Header(&header), grpc.Trailer(&trailer)) {
		if err != nil {
			callErr = err
			break
		}
		text, err := textfmt.Marshal(resp, out)
		if err != nil {
			callErr = err
			break
		}
		fmt.Fprintln(stdout, text)
		entry.Responses = append(entry.Responses, text)
	}
	entry.Duration = time.Since(start)
	entry.Metadata.Response = flatten(header)

	if inv.Verbose {
		printMetadata(stderr, "header", header)
		printMetadata(stderr, "trailer", trailer)
	}

	entry.Status = domain.StatusOK
	if callErr != nil {
		entry.Status = domain.StatusError
		entry.Error = callErr.Error()
		if st, ok := status.FromError(callErr); ok {
			entry.Code = st.Code().String()
		}
	}
	if inv.Record {
		if _, err := da.Storage().AddHistoryEntry(entry); err != nil {
			da.Logger().Warn("failed to record history", slog.Any("error", err))
		}
	}
	return callErr
}

// paced yields reqs no faster than one per interval.
func paced(ctx context.Context, reqs []*dynamic.Value, interval time.Duration) iter.Seq[*dynamic.Value] {
	return func(yield func(*dynamic.Value) bool) {
		var lim *rate.Limiter
		if interval > 0 {
			lim = rate.NewLimiter(rate.Every(interval), 1)
		}
		for _, req := range reqs {
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return
				}
			}
			if !yield(req) {
				return
			}
		}
	}
}

func pairsToMap(kv []string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if prev, ok := m[kv[i]]; ok {
			m[kv[i]] = prev + ", " + kv[i+1]
			continue
		}
		m[kv[i]] = kv[i+1]
	}
	return m
}

func mapToPairs(m map[string]string) []string {
	var kv []string
	for _, k := range slices.Sorted(maps.Keys(m)) {
		kv = append(kv, k, m[k])
	}
	return kv
}

func flatten(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	m := make(map[string]string, len(md))
	for k, vs := range md {
		m[k] = strings.Join(vs, ", ")
	}
	return m
}

func printMetadata(w io.Writer, kind string, md metadata.MD) {
	for _, k := range slices.Sorted(maps.Keys(md)) {
		for _, v := range md[k] {
			fmt.Fprintf(w, "%s %s: %s\n", kind, k, v)
		}
	}
}
