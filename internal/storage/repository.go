// Package storage persists call history and recently used connections.
package storage

import (
	"errors"

	"github.com/shhac/dynrpc/internal/domain"
)

var (
	// ErrNotFound is returned when no history entry matches an ID.
	ErrNotFound = errors.New("history entry not found")
	// ErrAmbiguousID is returned when an ID prefix matches several entries.
	ErrAmbiguousID = errors.New("history entry ID is ambiguous")
)

// Repository defines persistence operations for dynrpc.
type Repository interface {
	// History operations. Entries are kept newest first.
	AddHistoryEntry(entry domain.HistoryEntry) (domain.HistoryEntry, error)
	GetHistory(limit int) ([]domain.HistoryEntry, error)
	FindHistoryEntry(id string) (domain.HistoryEntry, error)
	ClearHistory() error

	// Recent connections
	SaveRecentConnection(conn domain.Connection) error
	GetRecentConnections() ([]domain.Connection, error)
	ClearRecentConnections() error
}
