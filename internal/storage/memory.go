package storage

import (
	"slices"
	"sync"

	"github.com/shhac/dynrpc/internal/domain"
)

// MemoryRepository implements Repository in memory, for tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	history []domain.HistoryEntry
	recent  []domain.Connection
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) AddHistoryEntry(entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	entry = prepareEntry(entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = prependEntry(m.history, entry)
	return entry, nil
}

func (m *MemoryRepository) GetHistory(limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(limitEntries(m.history, limit)), nil
}

func (m *MemoryRepository) FindHistoryEntry(id string) (domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findEntry(m.history, id)
}

func (m *MemoryRepository) ClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	return nil
}

func (m *MemoryRepository) SaveRecentConnection(conn domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = prependRecent(m.recent, conn)
	return nil
}

// GetRecentConnections returns a copy of the recent list.
func (m *MemoryRepository) GetRecentConnections() ([]domain.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.recent), nil
}

func (m *MemoryRepository) ClearRecentConnections() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = nil
	return nil
}
