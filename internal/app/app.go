// Package app wires configuration, logging, storage and the schema
// sources together for the command line tool.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/domain"
	apperrors "github.com/shhac/dynrpc/internal/errors"
	"github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/logging"
	"github.com/shhac/dynrpc/internal/reflection"
	"github.com/shhac/dynrpc/internal/schema"
	"github.com/shhac/dynrpc/internal/storage"
)

const appName = "dynrpc"

// App holds the long-lived components of one process.
type App struct {
	config  *Config
	logger  *slog.Logger
	closer  io.Closer
	storage storage.Repository
	conns   *grpc.ConnectionManager
}

// New builds an App. Diagnostics go to stderr unless cfg.LogFile is set.
func New(cfg *Config, stderr io.Writer) (*App, error) {
	var (
		logger *slog.Logger
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.LogFile {
		l, c, err := logging.InitLogger(appName, cfg.Debug)
		if err != nil {
			return nil, fmt.Errorf("initialize logger: %w", err)
		}
		logger, closer = l, c
	} else {
		logger = logging.NewStderrLogger(stderr, cfg.Debug)
	}

	storagePath := cfg.StoragePath
	if storagePath == "" {
		p, err := storage.DefaultStoragePath()
		if err != nil {
			closer.Close()
			return nil, fmt.Errorf("determine storage path: %w", err)
		}
		storagePath = p
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		closer:  closer,
		storage: storage.NewJSONRepository(storagePath, logger),
		conns:   grpc.NewConnectionManager(logger),
	}
	a.conns.SetStateCallback(func(s grpc.ConnectionState, message string) {
		logger.Debug("connection", slog.String("state", s.String()), slog.String("message", message))
	})
	logger.Debug("application initialized",
		slog.Bool("debug", cfg.Debug),
		slog.String("storage_path", storagePath),
	)
	return a, nil
}

func (a *App) Config() *Config { return a.config }

func (a *App) Logger() *slog.Logger { return a.logger }

func (a *App) Storage() storage.Repository { return a.storage }

// ConnManager returns the connection manager shared by all commands.
func (a *App) ConnManager() *grpc.ConnectionManager { return a.conns }

// Close disconnects and flushes logs.
func (a *App) Close() error {
	if err := a.conns.Disconnect(); err != nil {
		a.logger.Warn("disconnect failed", slog.Any("error", err))
	}
	return a.closer.Close()
}

// SchemaSource selects where the schema comes from. Exactly one of the
// three kinds must be set.
type SchemaSource struct {
	ProtoFiles    []string
	ImportPaths   []string // searched before Config.ImportPaths
	DescriptorSet string
	Reflect       bool
}

// Validate checks that exactly one kind of source is selected.
func (s SchemaSource) Validate() error {
	n := 0
	if len(s.ProtoFiles) > 0 {
		n++
	}
	if s.DescriptorSet != "" {
		n++
	}
	if s.Reflect {
		n++
	}
	switch {
	case n == 0:
		return apperrors.ErrNoSchema
	case n > 1:
		return apperrors.ValidationError{Message: "use only one of -proto, -descriptor-set and -reflect"}
	}
	return nil
}

// Connect dials conn unless the manager is already connected to the same
// address.
func (a *App) Connect(ctx context.Context, conn domain.Connection) error {
	if conn.Address == "" {
		return apperrors.ValidationError{Field: "-addr", Message: "a server address is required"}
	}
	if a.conns.State() == grpc.StateConnected && a.conns.Address() == conn.Address {
		return nil
	}
	if conn.Timeout == 0 {
		conn.Timeout = a.config.Timeout
	}
	if err := a.conns.Connect(ctx, conn); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrConnectionFailed, conn.Address, err)
	}
	return nil
}

// LoadSchema loads the schema from src. Reflection uses the current
// connection, so Connect must have been called first.
func (a *App) LoadSchema(ctx context.Context, src SchemaSource) (*descriptor.Set, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	switch {
	case src.DescriptorSet != "":
		return schema.LoadDescriptorSetFile(src.DescriptorSet)
	case src.Reflect:
		conn := a.conns.Conn()
		if conn == nil {
			return nil, apperrors.ValidationError{Field: "-reflect", Message: "needs a server address (-addr)"}
		}
		return reflection.NewClient(conn, a.logger).LoadSet(ctx)
	default:
		l := schema.Loader{
			ImportPaths: append(append([]string(nil), src.ImportPaths...), a.config.ImportPaths...),
			Logger:      a.logger,
		}
		return l.Load(src.ProtoFiles...)
	}
}
