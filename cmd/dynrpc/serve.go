package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/app"
	"github.com/shhac/dynrpc/internal/greeter"
)

var cmdServe = &subcommands.Command{
	UsageLine: "serve [flags]",
	ShortDesc: "runs the demo greeter server",
	LongDesc: `Runs the helloworld.Greeter demo service, implemented on dynamic values,
with gRPC reflection and health checking. Stops on interrupt.`,
	CommandRun: func() subcommands.CommandRun {
		r := &serveRun{}
		r.registerBaseFlags()
		r.Flags.StringVar(&r.host, "host", "", "Interface to listen on. Defaults to all.")
		r.Flags.IntVar(&r.port, "port", 50051, "Port to listen on.")
		r.Flags.BoolVar(&r.printProto, "print-proto", false, "Print the service definition and exit.")
		return r
	},
}

type serveRun struct {
	cmdRun
	host       string
	port       int
	printProto bool
}

func (r *serveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 0 {
		return r.done(a, usageError("serve takes no arguments"))
	}
	if r.printProto {
		_, err := io.WriteString(a.GetOut(), greeter.Source())
		return r.done(a, err)
	}

	ctx, cancel := r.context()
	defer cancel()

	da, err := r.start(a)
	if err != nil {
		return r.done(a, err)
	}
	defer da.Close()

	lis, err := net.Listen("tcp", net.JoinHostPort(r.host, strconv.Itoa(r.port)))
	if err != nil {
		return r.done(a, err)
	}
	return r.done(a, serve(ctx, da, lis, a.GetOut()))
}

// serve runs the greeter on lis until ctx is done, then drains in-flight
// calls.
func serve(ctx context.Context, da *app.App, lis net.Listener, stdout io.Writer) error {
	srv, err := greeter.NewServer(da.Logger(), da.Config().Limits())
	if err != nil {
		lis.Close()
		return err
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		da.Logger().Info("shutting down")
		srv.GracefulStop()
	}()

	fmt.Fprintf(stdout, "serving %s on %s\n", greeter.ServiceName, lis.Addr())
	da.Logger().Info("serving", slog.String("address", lis.Addr().String()))
	err = srv.Serve(lis)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	srv.Stop()
	return err
}
