package grpc

import (
	"fmt"
	"log/slog"

	"github.com/shhac/dynrpc/internal/dynamic"
)

// maxLogBodyLen caps message bodies in debug logs.
const maxLogBodyLen = 1024

func truncateForLog(s string) string {
	if len(s) <= maxLogBodyLen {
		return s
	}
	return s[:maxLogBodyLen] + fmt.Sprintf("... (%d bytes total)", len(s))
}

// bodyAttr renders v lazily so that disabled debug logging costs nothing.
func bodyAttr(key string, v *dynamic.Value) slog.Attr {
	return slog.Any(key, lazyBody{v})
}

type lazyBody struct{ v *dynamic.Value }

func (b lazyBody) LogValue() slog.Value {
	return slog.StringValue(truncateForLog(b.v.String()))
}
