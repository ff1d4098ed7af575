package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/descriptor"
)

var cmdShow = &subcommands.Command{
	UsageLine: "show [flags] <name>",
	ShortDesc: "prints the definition of a service, method, message or enum",
	LongDesc: `Prints the definition of a service, method, message or enum in .proto
syntax. For a method its request and response messages are printed too.`,
	CommandRun: func() subcommands.CommandRun {
		r := &showRun{}
		r.registerBaseFlags()
		r.registerSchemaFlags()
		r.registerConnFlags()
		return r
	},
}

type showRun struct {
	cmdRun
}

func (r *showRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return r.done(a, usageError("show takes exactly one name"))
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
	return r.done(a, show(a.GetOut(), set, args[0]))
}

// show prints the object called name. Services win over methods, methods
// over messages, and messages over enums.
func show(w io.Writer, set *descriptor.Set, name string) error {
	p := printer{w: w}
	if sd, err := set.FindService(name); err == nil {
		p.service(sd, nil)
		return nil
	} else if !errors.Is(err, descriptor.ErrNotFound) {
		return err
	}
	if md, err := set.FindMethod(name); err == nil {
		p.service(md.Service(), md)
		p.printf("\n")
		p.message(md.Input())
		if md.Output() != md.Input() {
			p.printf("\n")
			p.message(md.Output())
		}
		return nil
	}
	if msg, err := set.FindMessage(name); err == nil {
		p.message(msg)
		return nil
	} else if !errors.Is(err, descriptor.ErrNotFound) {
		return err
	}
	ed, err := set.FindEnum(name)
	if err != nil {
		return err
	}
	p.enum(ed)
	return nil
}

type printer struct {
	w      io.Writer
	indent int
}

func (p *printer) printf(format string, args ...any) {
	if format != "\n" {
		fmt.Fprint(p.w, strings.Repeat("  ", p.indent))
	}
	fmt.Fprintf(p.w, format, args...)
}

// service prints sd with all its methods, or just only when it is non-nil.
func (p *printer) service(sd *descriptor.ServiceDescriptor, only *descriptor.MethodDescriptor) {
	p.printf("// %s\n", sd.File())
	p.printf("service %s {\n", sd.FullName())
	p.indent++
	for _, m := range sd.Methods() {
		if only != nil && m != only {
			continue
		}
		in, out := m.Input().FullName(), m.Output().FullName()
		if m.Shape().ClientStreams() {
			in = "stream " + in
		}
		if m.Shape().ServerStreams() {
			out = "stream " + out
		}
		p.printf("rpc %s(%s) returns (%s);\n", m.Name(), in, out)
	}
	p.indent--
	p.printf("}\n")
}

func (p *printer) message(md *descriptor.MessageDescriptor) {
	p.printf("message %s {\n", md.FullName())
	p.indent++
	oneof := ""
	for _, f := range md.Fields() {
		if f.Oneof() != oneof {
			if oneof != "" {
				p.indent--
				p.printf("}\n")
			}
			oneof = f.Oneof()
			if oneof != "" {
				p.printf("oneof %s {\n", oneof)
				p.indent++
			}
		}
		p.printf("%s%s %s = %d;\n", label(f), fieldType(f), f.Name(), f.Number())
	}
	if oneof != "" {
		p.indent--
		p.printf("}\n")
	}
	p.indent--
	p.printf("}\n")
}

func (p *printer) enum(ed *descriptor.EnumDescriptor) {
	p.printf("enum %s {\n", ed.FullName())
	p.indent++
	for _, v := range ed.Values() {
		p.printf("%s = %d;\n", v.Name, v.Number)
	}
	p.indent--
	p.printf("}\n")
}

func label(f *descriptor.FieldDescriptor) string {
	switch {
	case f.IsMap(), f.Oneof() != "":
		return ""
	case f.IsRepeated():
		return "repeated "
	case f.HasPresence() && f.Kind() != descriptor.MessageKind:
		return "optional "
	}
	return ""
}

func fieldType(f *descriptor.FieldDescriptor) string {
	if f.IsMap() {
		return fmt.Sprintf("map<%s, %s>", fieldType(f.MapKey()), fieldType(f.MapValue()))
	}
	switch f.Kind() {
	case descriptor.MessageKind:
		return f.Message().FullName()
	case descriptor.EnumKind:
		return f.Enum().FullName()
	}
	return f.Kind().String()
}
