package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/shhac/dynrpc/internal/domain"
)

// ConnectionState represents the current state of the managed connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ConnectionManager owns one client connection at a time.
type ConnectionManager struct {
	mu      sync.RWMutex
	conn    *grpc.ClientConn
	state   ConnectionState
	address string
	logger  *slog.Logger

	onStateChange func(state ConnectionState, message string)
}

// NewConnectionManager returns a manager with no connection.
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		state:  StateDisconnected,
		logger: logger,
	}
}

// Connect dials cfg.Address, replacing any previous connection. When
// cfg.Timeout is set, Connect waits up to that long for the connection to
// become ready and fails otherwise; without it the connection is made lazily.
func (m *ConnectionManager) Connect(ctx context.Context, cfg domain.Connection) error {
	m.updateState(StateConnecting, "Connecting to "+cfg.Address)

	opts, err := DialOptions(cfg)
	if err != nil {
		m.updateState(StateError, err.Error())
		return err
	}
	if cfg.TLS.Enabled && cfg.TLS.SkipVerify {
		m.logger.Warn("TLS certificate verification disabled", slog.String("address", cfg.Address))
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		m.logger.Error("failed to create gRPC client",
			slog.String("address", cfg.Address),
			slog.Any("error", err),
		)
		m.updateState(StateError, "Failed to connect: "+err.Error())
		return err
	}

	if cfg.Timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := waitReady(ctx, conn); err != nil {
			conn.Close()
			m.updateState(StateError, "Failed to connect: "+err.Error())
			return fmt.Errorf("connect %s: %w", cfg.Address, err)
		}
	}

	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.address = cfg.Address
	m.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warn("failed to close old connection", slog.Any("error", err))
		}
	}

	m.logger.Debug("gRPC connection established",
		slog.String("address", cfg.Address),
		slog.Bool("tls", cfg.TLS.Enabled),
	)
	m.updateState(StateConnected, "Connected to "+cfg.Address)
	return nil
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		s := conn.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, s) {
			return ctx.Err()
		}
	}
}

// DialOptions returns the dial options for cfg: keepalive plus either TLS
// or plaintext credentials.
func DialOptions(cfg domain.Connection) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: false,
		}),
	}
	if !cfg.TLS.Enabled {
		return append(opts, grpc.WithTransportCredentials(insecure.NewCredentials())), nil
	}
	tc, err := tlsConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	return append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tc))), nil
}

func tlsConfig(s domain.TLSSettings) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.SkipVerify,
		ServerName:         s.ServerName,
	}
	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", s.CAFile)
		}
		tc.RootCAs = pool
	}
	if s.ClientCertFile != "" || s.ClientKeyFile != "" {
		if s.ClientCertFile == "" || s.ClientKeyFile == "" {
			return nil, errors.New("client certificate and key must be given together")
		}
		cert, err := tls.LoadX509KeyPair(s.ClientCertFile, s.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Disconnect closes the current connection, if any.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	conn, addr := m.conn, m.address
	m.conn, m.address = nil, ""
	m.mu.Unlock()

	if conn == nil {
		m.updateState(StateDisconnected, "Already disconnected")
		return nil
	}
	if err := conn.Close(); err != nil {
		m.logger.Error("failed to close connection",
			slog.String("address", addr),
			slog.Any("error", err),
		)
		m.updateState(StateError, "Failed to disconnect: "+err.Error())
		return err
	}
	m.logger.Debug("gRPC connection closed", slog.String("address", addr))
	m.updateState(StateDisconnected, "Disconnected")
	return nil
}

// Conn returns the current connection, or nil when disconnected.
func (m *ConnectionManager) Conn() *grpc.ClientConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *ConnectionManager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ConnectionManager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// SetStateCallback registers fn to be called after every state change.
func (m *ConnectionManager) SetStateCallback(fn func(state ConnectionState, message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

func (m *ConnectionManager) updateState(state ConnectionState, message string) {
	m.mu.Lock()
	m.state = state
	callback := m.onStateChange
	m.mu.Unlock()

	m.logger.Debug("connection state changed",
		slog.String("state", state.String()),
		slog.String("message", message),
	)
	if callback != nil {
		callback(state, message)
	}
}
