// Package textfmt bridges dynamic values and the protobuf canonical JSON
// mapping, using schema field names on output.
package textfmt

import (
	"bytes"
	"encoding/json"
	"errors"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// MarshalOptions configures Marshal.
type MarshalOptions struct {
	// Indent, when set, pretty-prints with this indent per level.
	Indent string
	// EmitDefaults writes unset fields with their default values.
	EmitDefaults bool
	// Set resolves the payloads of google.protobuf.Any fields.
	Set *descriptor.Set
}

// Marshal renders v as canonical protobuf JSON. The output is stable for a
// given value.
func Marshal(v *dynamic.Value, opts MarshalOptions) (string, error) {
	if v == nil || v.Descriptor() == nil {
		return "", errors.New("textfmt: marshal of untyped value")
	}
	mo := protojson.MarshalOptions{
		UseProtoNames:   true,
		EmitUnpopulated: opts.EmitDefaults,
	}
	if opts.Set != nil {
		mo.Resolver = opts.Set.Types()
	}
	raw, err := mo.Marshal(v.ToProto())
	if err != nil {
		return "", err
	}

	// protojson randomizes whitespace; normalize it.
	var buf bytes.Buffer
	if opts.Indent != "" {
		err = json.Indent(&buf, raw, "", opts.Indent)
	} else {
		err = json.Compact(&buf, raw)
	}
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Format returns the multi-line protobuf text format of v, for humans.
func Format(v *dynamic.Value) string {
	if v == nil {
		return "<nil>"
	}
	return prototext.MarshalOptions{Multiline: true, Indent: "  "}.Format(v.ToProto())
}
