package textfmt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// wellKnown lists the types whose JSON form is not a plain object of their
// fields. They are parsed by protojson.
var wellKnown = map[string]bool{
	"google.protobuf.Any":         true,
	"google.protobuf.Timestamp":   true,
	"google.protobuf.Duration":    true,
	"google.protobuf.FieldMask":   true,
	"google.protobuf.Struct":      true,
	"google.protobuf.Value":       true,
	"google.protobuf.ListValue":   true,
	"google.protobuf.DoubleValue": true,
	"google.protobuf.FloatValue":  true,
	"google.protobuf.Int64Value":  true,
	"google.protobuf.UInt64Value": true,
	"google.protobuf.Int32Value":  true,
	"google.protobuf.UInt32Value": true,
	"google.protobuf.BoolValue":   true,
	"google.protobuf.StringValue": true,
	"google.protobuf.BytesValue":  true,
}

// UnmarshalOptions configures Unmarshal.
type UnmarshalOptions struct {
	// DiscardUnknown skips object keys that name no field.
	DiscardUnknown bool
	// Set resolves the payloads of google.protobuf.Any fields.
	Set *descriptor.Set
}

// Unmarshal parses canonical protobuf JSON into a new value of type md.
func Unmarshal(text string, md *descriptor.MessageDescriptor) (*dynamic.Value, error) {
	return UnmarshalOptions{}.Unmarshal(text, md)
}

// Unmarshal parses text into a new value of type md. Keys may be schema
// names or JSON names. On error no value is returned.
func (o UnmarshalOptions) Unmarshal(text string, md *descriptor.MessageDescriptor) (*dynamic.Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Reason: Syntax, Message: md.FullName(), Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Reason: Syntax, Message: md.FullName(), Err: errors.New("trailing data after document")}
	}
	if path, ok := duplicateKey(text); ok {
		return nil, &ParseError{Reason: Syntax, Message: md.FullName(), Path: path, Err: errors.New("duplicate key")}
	}

	w := walker{opts: o, root: md}
	v := dynamic.New(md)
	if err := w.message(doc, v, ""); err != nil {
		return nil, err
	}
	return v, nil
}

// duplicateKey returns the path of the first key repeated within one
// object. Decoding into a map keeps only the last of them. text must
// already be known to be valid JSON.
func duplicateKey(text string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var walk func(path string) (string, bool)
	walk = func(path string) (string, bool) {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		d, ok := tok.(json.Delim)
		if !ok {
			return "", false
		}
		switch d {
		case '{':
			seen := map[string]bool{}
			for dec.More() {
				tok, err := dec.Token()
				if err != nil {
					return "", false
				}
				key, _ := tok.(string)
				kpath := join(path, key)
				if seen[key] {
					return kpath, true
				}
				seen[key] = true
				if p, dup := walk(kpath); dup {
					return p, true
				}
			}
		case '[':
			for i := 0; dec.More(); i++ {
				if p, dup := walk(fmt.Sprintf("%s[%d]", path, i)); dup {
					return p, true
				}
			}
		}
		dec.Token()
		return "", false
	}
	return walk("")
}

type walker struct {
	opts UnmarshalOptions
	root *descriptor.MessageDescriptor
}

func (w *walker) fail(r Reason, path string, format string, args ...any) error {
	return &ParseError{Reason: r, Message: w.root.FullName(), Path: path, Err: fmt.Errorf(format, args...)}
}

// wrap converts a dynamic.FieldError into a ParseError at path.
func (w *walker) wrap(path string, err error) error {
	r := TypeMismatch
	if errors.Is(err, dynamic.ErrUnknownField) {
		r = UnknownField
	}
	return &ParseError{Reason: r, Message: w.root.FullName(), Path: path, Err: err}
}

// message fills v, which is empty, from a decoded JSON value.
func (w *walker) message(doc any, v *dynamic.Value, path string) error {
	md := v.Descriptor()
	if wellKnown[md.FullName()] {
		return w.wellKnown(doc, v, path)
	}
	if doc == nil {
		return nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return w.fail(TypeMismatch, path, "%s wants an object, got %s", md.FullName(), jsonType(doc))
	}

	oneofs := map[string]string{}
	given := map[string]string{}
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		val := obj[key]
		fpath := join(path, key)
		fd := md.FieldByName(key)
		if fd == nil {
			fd = md.FieldByJSONName(key)
		}
		if fd == nil {
			if w.opts.DiscardUnknown {
				continue
			}
			return w.fail(UnknownField, fpath, "%s has no field %q", md.FullName(), key)
		}
		if prev, dup := given[fd.Name()]; dup {
			return w.fail(Syntax, fpath, "field %s already given as %q", fd.Name(), prev)
		}
		given[fd.Name()] = key
		if val == nil && !acceptsNull(fd) {
			continue
		}
		if o := fd.Oneof(); o != "" {
			if prev, dup := oneofs[o]; dup {
				return w.fail(TypeMismatch, fpath, "oneof %s already set by %s", o, prev)
			}
			oneofs[o] = fd.Name()
		}
		if err := w.field(fd, val, v, fpath); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) field(fd *descriptor.FieldDescriptor, val any, v *dynamic.Value, path string) error {
	switch {
	case fd.IsMap():
		obj, ok := val.(map[string]any)
		if !ok {
			return w.fail(TypeMismatch, path, "map wants an object, got %s", jsonType(val))
		}
		kfd, vfd := fd.MapKey(), fd.MapValue()
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			epath := fmt.Sprintf("%s[%q]", path, k)
			key, err := mapKey(kfd, k)
			if err != nil {
				return w.fail(TypeMismatch, epath, "map key: %v", err)
			}
			var x any
			if vfd.Kind() == descriptor.MessageKind {
				child := dynamic.New(vfd.Message())
				if err := w.message(obj[k], child, epath); err != nil {
					return err
				}
				x = child
			} else if x, err = w.scalar(vfd, obj[k], epath); err != nil {
				return err
			}
			if err := v.PutMapEntry(fd.Name(), key, x); err != nil {
				return w.wrap(epath, err)
			}
		}
		return nil

	case fd.IsRepeated():
		arr, ok := val.([]any)
		if !ok {
			return w.fail(TypeMismatch, path, "repeated field wants an array, got %s", jsonType(val))
		}
		for i, elem := range arr {
			epath := fmt.Sprintf("%s[%d]", path, i)
			if fd.Kind() == descriptor.MessageKind {
				if elem == nil && !wellKnown[fd.Message().FullName()] {
					return w.fail(TypeMismatch, epath, "null element")
				}
				child, err := v.AppendNew(fd.Name())
				if err != nil {
					return w.wrap(epath, err)
				}
				if err := w.message(elem, child, epath); err != nil {
					return err
				}
				continue
			}
			x, err := w.scalar(fd, elem, epath)
			if err != nil {
				return err
			}
			if err := v.Append(fd.Name(), x); err != nil {
				return w.wrap(epath, err)
			}
		}
		return nil

	case fd.Kind() == descriptor.MessageKind:
		child, err := v.Mutable(fd.Name())
		if err != nil {
			return w.wrap(path, err)
		}
		return w.message(val, child, path)
	}

	x, err := w.scalar(fd, val, path)
	if err != nil {
		return err
	}
	if err := v.Set(fd.Name(), x); err != nil {
		return w.wrap(path, err)
	}
	return nil
}

func (w *walker) scalar(fd *descriptor.FieldDescriptor, val any, path string) (any, error) {
	x, err := convert(fd, val)
	if err != nil {
		return nil, w.fail(TypeMismatch, path, "%v", err)
	}
	return x, nil
}

// wellKnown hands a value with a special JSON form to protojson and copies
// the result into v.
func (w *walker) wellKnown(doc any, v *dynamic.Value, path string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return w.fail(TypeMismatch, path, "%v", err)
	}
	md := v.Descriptor()
	pm := dynamicpb.NewMessage(md.Proto())
	uo := protojson.UnmarshalOptions{DiscardUnknown: w.opts.DiscardUnknown}
	if w.opts.Set != nil {
		uo.Resolver = w.opts.Set.Types()
	}
	if err := uo.Unmarshal(raw, pm); err != nil {
		return w.fail(TypeMismatch, path, "%s: %v", md.FullName(), err)
	}
	parsed, err := dynamic.FromProto(md, pm)
	if err != nil {
		return w.fail(TypeMismatch, path, "%v", err)
	}
	*v = *parsed
	return nil
}

// acceptsNull reports whether JSON null is a value for fd rather than a
// request for the default.
func acceptsNull(fd *descriptor.FieldDescriptor) bool {
	return !fd.IsRepeated() && fd.Kind() == descriptor.MessageKind &&
		fd.Message().FullName() == "google.protobuf.Value"
}

func convert(fd *descriptor.FieldDescriptor, val any) (any, error) {
	switch fd.Kind() {
	case descriptor.Int32Kind, descriptor.Sint32Kind, descriptor.Sfixed32Kind:
		n, err := parseInt(val, 32)
		return int32(n), err
	case descriptor.Int64Kind, descriptor.Sint64Kind, descriptor.Sfixed64Kind:
		return parseInt(val, 64)
	case descriptor.Uint32Kind, descriptor.Fixed32Kind:
		n, err := parseUint(val, 32)
		return uint32(n), err
	case descriptor.Uint64Kind, descriptor.Fixed64Kind:
		return parseUint(val, 64)
	case descriptor.FloatKind:
		f, err := parseFloat(val, 32)
		return float32(f), err
	case descriptor.DoubleKind:
		return parseFloat(val, 64)
	case descriptor.BoolKind:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	case descriptor.StringKind:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case descriptor.BytesKind:
		if s, ok := val.(string); ok {
			return decodeBase64(s)
		}
	case descriptor.EnumKind:
		return parseEnum(fd.Enum(), val)
	}
	return nil, fmt.Errorf("%s field cannot hold %s", fd.Kind(), jsonType(val))
}

func numberText(val any) (string, bool) {
	switch x := val.(type) {
	case json.Number:
		return x.String(), true
	case string:
		return strings.TrimSpace(x), true
	}
	return "", false
}

func parseInt(val any, bits int) (int64, error) {
	s, ok := numberText(val)
	if !ok {
		return 0, fmt.Errorf("want integer, got %s", jsonType(val))
	}
	if n, err := strconv.ParseInt(s, 10, bits); err == nil {
		return n, nil
	}
	// 1e3 and 5.0 are integers too.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < -math.Ldexp(1, bits-1) || f >= math.Ldexp(1, bits-1) {
		return 0, fmt.Errorf("%q is not an int%d", s, bits)
	}
	return int64(f), nil
}

func parseUint(val any, bits int) (uint64, error) {
	s, ok := numberText(val)
	if !ok {
		return 0, fmt.Errorf("want integer, got %s", jsonType(val))
	}
	if n, err := strconv.ParseUint(s, 10, bits); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f >= math.Ldexp(1, bits) {
		return 0, fmt.Errorf("%q is not a uint%d", s, bits)
	}
	return uint64(f), nil
}

func parseFloat(val any, bits int) (float64, error) {
	if s, ok := val.(string); ok {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	s, ok := numberText(val)
	if !ok {
		return 0, fmt.Errorf("want number, got %s", jsonType(val))
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return 0, fmt.Errorf("%q is not a float%d", s, bits)
	}
	return f, nil
}

func parseEnum(ed *descriptor.EnumDescriptor, val any) (dynamic.EnumNumber, error) {
	switch x := val.(type) {
	case string:
		if ev, ok := ed.ValueByName(x); ok {
			return dynamic.EnumNumber(ev.Number), nil
		}
		return 0, fmt.Errorf("%s has no value %q", ed.FullName(), x)
	case json.Number:
		n, err := parseInt(x, 32)
		if err != nil {
			return 0, err
		}
		return dynamic.EnumNumber(n), nil
	}
	return 0, fmt.Errorf("enum %s cannot hold %s", ed.FullName(), jsonType(val))
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%q is not base64", s)
}

func mapKey(kfd *descriptor.FieldDescriptor, k string) (any, error) {
	switch kfd.Kind() {
	case descriptor.StringKind:
		return k, nil
	case descriptor.BoolKind:
		b, err := strconv.ParseBool(k)
		if err != nil || (k != "true" && k != "false") {
			return nil, fmt.Errorf("%q is not a bool", k)
		}
		return b, nil
	}
	return convert(kfd, k)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func jsonType(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", val)
}
