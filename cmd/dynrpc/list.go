package main

import (
	"fmt"
	"io"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/domain"
)

var cmdList = &subcommands.Command{
	UsageLine: "list [flags]",
	ShortDesc: "lists services and their methods",
	LongDesc:  "Lists the services of the schema with the streaming shape and message types of each method.",
	CommandRun: func() subcommands.CommandRun {
		r := &listRun{}
		r.registerBaseFlags()
		r.registerSchemaFlags()
		r.registerConnFlags()
		r.Flags.BoolVar(&r.json, "json", false, "Print the listing as JSON.")
		return r
	},
}

type listRun struct {
	cmdRun
	json bool
}

func (r *listRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 0 {
		return r.done(a, usageError("list takes no arguments"))
	}
	ctx, cancel := r.context()
	defer cancel()

	da, err := r.start(a)
	if err != nil {
		return r.done(a, err)
	}
	defer da.Close()

	set, err := r.loadSchema(ctx, da)
	if err != nil {
		return r.done(a, err)
	}
	services := domain.Services(set)
	if r.json {
		return r.done(a, writeJSON(a.GetOut(), services))
	}
	printServices(a.GetOut(), services)
	return 0
}

func printServices(w io.Writer, services []domain.Service) {
	for _, svc := range services {
		fmt.Fprintln(w, svc.FullName)
		for _, m := range svc.Methods {
			fmt.Fprintf(w, "  %s (%s) %s -> %s\n", m.Name, m.Shape, m.InputType, m.OutputType)
		}
	}
}
