// Command dynrpc lists, calls and serves gRPC methods whose schema is only
// known at run time.
package main

import (
	"io"
	"os"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/app"
)

// application carries the process streams so that commands can be run
// against buffers.
type application struct {
	subcommands.DefaultApplication

	config *app.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *application) GetOut() io.Writer { return a.stdout }

func (a *application) GetErr() io.Writer { return a.stderr }

func newApplication(cfg *app.Config, stdin io.Reader, stdout, stderr io.Writer) *application {
	return &application{
		DefaultApplication: subcommands.DefaultApplication{
			Name:  "dynrpc",
			Title: "Calls gRPC methods described by .proto files, descriptor sets or server reflection.",
			// Keep in alphabetical order of their name.
			Commands: []*subcommands.Command{
				cmdCall,
				cmdDecode,
				cmdEncode,
				subcommands.CmdHelp,
				cmdHistory,
				cmdList,
				cmdServe,
				cmdShow,
			},
		},
		config: cfg,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
}

func appOf(a subcommands.Application) *application {
	return a.(*application)
}

func main() {
	os.Exit(subcommands.Run(newApplication(app.ConfigFromEnv(), os.Stdin, os.Stdout, os.Stderr), nil))
}
