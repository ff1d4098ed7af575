package app

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shhac/dynrpc/internal/codec"
)

// Config holds application-wide configuration.
type Config struct {
	// Debug enables debug logging.
	Debug bool
	// LogFile sends logs to the platform log file instead of stderr.
	LogFile bool

	// ImportPaths are searched for .proto files and their imports.
	ImportPaths []string

	// MaxMessageBytes and MaxDepth bound decoding of every message.
	MaxMessageBytes int
	MaxDepth        int

	// Timeout bounds connecting and, for unary calls, the whole call.
	// Zero means no timeout.
	Timeout time.Duration

	// StoragePath is where history is kept. Empty means DefaultStoragePath.
	StoragePath string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxMessageBytes: codec.DefaultMaxBytes,
		MaxDepth:        codec.DefaultMaxDepth,
		Timeout:         10 * time.Second,
	}
}

// ConfigFromEnv overlays DYNRPC_* environment variables on the defaults.
// Values that do not parse are ignored.
func ConfigFromEnv() *Config {
	return configFrom(os.Getenv)
}

func configFrom(getenv func(string) string) *Config {
	cfg := DefaultConfig()

	if v, err := strconv.ParseBool(getenv("DYNRPC_DEBUG")); err == nil {
		cfg.Debug = v
	}
	if v, err := strconv.ParseBool(getenv("DYNRPC_LOG_FILE")); err == nil {
		cfg.LogFile = v
	}
	if v := getenv("DYNRPC_IMPORT_PATH"); v != "" {
		cfg.ImportPaths = filepath.SplitList(v)
	}
	if v, err := strconv.Atoi(getenv("DYNRPC_MAX_MESSAGE_BYTES")); err == nil && v > 0 {
		cfg.MaxMessageBytes = v
	}
	if v, err := strconv.Atoi(getenv("DYNRPC_MAX_DEPTH")); err == nil && v > 0 {
		cfg.MaxDepth = v
	}
	if v, err := time.ParseDuration(getenv("DYNRPC_TIMEOUT")); err == nil && v >= 0 {
		cfg.Timeout = v
	}
	if v := getenv("DYNRPC_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	return cfg
}

// Limits returns the decode limits of the configuration.
func (c *Config) Limits() codec.UnmarshalOptions {
	return codec.UnmarshalOptions{MaxDepth: c.MaxDepth, MaxBytes: c.MaxMessageBytes}
}
