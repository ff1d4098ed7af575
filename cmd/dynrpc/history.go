package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/domain"
)

var cmdHistory = &subcommands.Command{
	UsageLine: "history [flags] [list | show <id> | replay <id> | clear]",
	ShortDesc: "lists, shows, replays or clears recorded calls",
	LongDesc: `Works with the calls recorded by "dynrpc call".

IDs may be abbreviated to any unique prefix. replay sends the recorded
requests and metadata again to the recorded address unless -addr is given;
without a schema flag the schema is loaded through reflection.`,
	CommandRun: func() subcommands.CommandRun {
		r := &historyRun{}
		r.registerBaseFlags()
		r.registerSchemaFlags()
		r.registerConnFlags()
		r.Flags.IntVar(&r.limit, "n", 20, "Number of entries to list.")
		r.Flags.BoolVar(&r.json, "json", false, "Print entries as JSON.")
		return r
	},
}

type historyRun struct {
	cmdRun
	limit int
	json  bool
}

func (r *historyRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	action := "list"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}
	wantArgs := 0
	if action == "show" || action == "replay" {
		wantArgs = 1
	}
	if len(args) != wantArgs {
		return r.done(a, usageError("history %s takes %d arguments", action, wantArgs))
	}

	da, err := r.start(a)
	if err != nil {
		return r.done(a, err)
	}
	defer da.Close()
	repo := da.Storage()
	out := a.GetOut()

	switch action {
	case "list":
		entries, err := repo.GetHistory(r.limit)
		if err != nil {
			return r.done(a, err)
		}
		if r.json {
			return r.done(a, writeJSON(out, entries))
		}
		for _, e := range entries {
			printEntryLine(out, e)
		}
		return 0

	case "show":
		e, err := repo.FindHistoryEntry(args[0])
		if err != nil {
			return r.done(a, err)
		}
		return r.done(a, writeJSON(out, e))

	case "replay":
		e, err := repo.FindHistoryEntry(args[0])
		if err != nil {
			return r.done(a, err)
		}
		conn := e.Connection
		if r.addr != "" {
			conn = r.connection()
		}
		if !r.hasSchemaSource() {
			r.reflect = true
		}

		ctx, cancel := r.context()
		defer cancel()
		if err := da.Connect(ctx, conn); err != nil {
			return r.done(a, err)
		}
		set, err := da.LoadSchema(ctx, r.schemaSource())
		if err != nil {
			return r.done(a, err)
		}
		return r.done(a, invoke(ctx, da, set, invocation{
			Connection: conn,
			Method:     e.Method,
			Docs:       e.Requests,
			Headers:    mapToPairs(e.Metadata.Request),
			Record:     true,
		}, out, a.GetErr()))

	case "clear":
		return r.done(a, repo.ClearHistory())
	}
	return r.done(a, usageError("unknown history action %q", action))
}

func printEntryLine(w io.Writer, e domain.HistoryEntry) {
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	outcome := e.Status
	if e.Code != "" {
		outcome = e.Code
	}
	fmt.Fprintf(w, "%s  %s  %-6s %s %s (%s)\n",
		id,
		e.Timestamp.Local().Format(time.DateTime),
		outcome,
		e.Connection.Address,
		e.Method,
		e.Duration.Round(time.Millisecond),
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
