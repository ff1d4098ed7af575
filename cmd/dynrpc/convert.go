package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/maruel/subcommands"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/textfmt"
)

// Binary encodings accepted by -format.
const (
	formatHex    = "hex"
	formatBase64 = "base64"
	formatRaw    = "raw"
)

var cmdEncode = &subcommands.Command{
	UsageLine: "encode [flags] <message>",
	ShortDesc: "converts a JSON message to protobuf binary",
	LongDesc: `Reads one JSON document from -d or stdin and writes the protobuf binary
encoding of the named message type, as hex, base64 or raw bytes.`,
	CommandRun: func() subcommands.CommandRun {
		r := &encodeRun{}
		r.registerConvertFlags()
		return r
	},
}

var cmdDecode = &subcommands.Command{
	UsageLine: "decode [flags] <message>",
	ShortDesc: "converts protobuf binary to a JSON message",
	LongDesc: `Reads the protobuf binary encoding of the named message type from -d or
stdin, as hex, base64 or raw bytes, and prints it as JSON.`,
	CommandRun: func() subcommands.CommandRun {
		r := &decodeRun{}
		r.registerConvertFlags()
		r.Flags.BoolVar(&r.pretty, "pretty", false, "Indent the JSON output.")
		r.Flags.BoolVar(&r.emitDefaults, "emit-defaults", false, "Print unset fields with their default values.")
		return r
	},
}

type convertRun struct {
	cmdRun
	data   string
	format string
}

func (r *convertRun) registerConvertFlags() {
	r.registerBaseFlags()
	r.registerSchemaFlags()
	r.registerConnFlags()
	r.Flags.StringVar(&r.data, "d", "", "Input, @file, or @- for stdin. Defaults to stdin.")
	r.Flags.StringVar(&r.format, "format", formatHex, "Binary encoding: hex, base64 or raw.")
}

func (r *convertRun) validate(args []string) error {
	if len(args) != 1 {
		return usageError("takes exactly one message type")
	}
	switch r.format {
	case formatHex, formatBase64, formatRaw:
		return nil
	}
	return usageError("unknown -format %q, want hex, base64 or raw", r.format)
}

// messageType loads the schema and looks up the named message.
func (r *convertRun) messageType(a subcommands.Application, name string) (*descriptor.MessageDescriptor, *descriptor.Set, func(), error) {
	ctx, cancel := r.context()
	defer cancel()

	da, err := r.start(a)
	if err != nil {
		return nil, nil, nil, err
	}
	set, err := r.loadSchema(ctx, da)
	if err != nil {
		da.Close()
		return nil, nil, nil, err
	}
	md, err := set.FindMessage(name)
	if err != nil {
		da.Close()
		return nil, nil, nil, err
	}
	return md, set, func() { da.Close() }, nil
}

type encodeRun struct {
	convertRun
}

func (r *encodeRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := r.validate(args); err != nil {
		return r.done(a, err)
	}
	md, set, closeApp, err := r.messageType(a, args[0])
	if err != nil {
		return r.done(a, err)
	}
	defer closeApp()

	input, err := readInput(a, r.data)
	if err != nil {
		return r.done(a, err)
	}
	v, err := textfmt.UnmarshalOptions{Set: set}.Unmarshal(string(input), md)
	if err != nil {
		return r.done(a, err)
	}
	b, err := codec.Marshal(v)
	if err != nil {
		return r.done(a, err)
	}

	out := a.GetOut()
	switch r.format {
	case formatRaw:
		_, err = out.Write(b)
	case formatBase64:
		_, err = fmt.Fprintln(out, base64.StdEncoding.EncodeToString(b))
	default:
		_, err = fmt.Fprintln(out, hex.EncodeToString(b))
	}
	return r.done(a, err)
}

type decodeRun struct {
	convertRun
	pretty       bool
	emitDefaults bool
}

func (r *decodeRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := r.validate(args); err != nil {
		return r.done(a, err)
	}
	md, set, closeApp, err := r.messageType(a, args[0])
	if err != nil {
		return r.done(a, err)
	}
	defer closeApp()

	input, err := readInput(a, r.data)
	if err != nil {
		return r.done(a, err)
	}
	b, err := decodeBinary(r.format, input)
	if err != nil {
		return r.done(a, err)
	}
	v, err := appOf(a).config.Limits().Unmarshal(b, md)
	if err != nil {
		return r.done(a, err)
	}
	opts := textfmt.MarshalOptions{EmitDefaults: r.emitDefaults, Set: set}
	if r.pretty {
		opts.Indent = "  "
	}
	text, err := textfmt.Marshal(v, opts)
	if err != nil {
		return r.done(a, err)
	}
	fmt.Fprintln(a.GetOut(), text)
	return 0
}

func decodeBinary(format string, input []byte) ([]byte, error) {
	if format == formatRaw {
		return input, nil
	}
	text := string(bytes.Join(bytes.Fields(input), nil))
	var (
		b   []byte
		err error
	)
	if format == formatBase64 {
		b, err = base64.StdEncoding.DecodeString(text)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(text)
		}
	} else {
		b, err = hex.DecodeString(text)
	}
	if err != nil {
		return nil, usageError("input is not valid %s: %v", format, err)
	}
	return b, nil
}
