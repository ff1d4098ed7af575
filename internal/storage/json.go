package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shhac/dynrpc/internal/domain"
)

const (
	recentFile     = "recent.json"
	historyFile    = "history.json"
	filePermission = 0o600
	dirPermission  = 0o700
)

// JSONRepository implements Repository with one JSON file per list under
// basePath. Writes are atomic; a mutex serializes read-modify-write cycles
// within the process.
type JSONRepository struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewJSONRepository(basePath string, logger *slog.Logger) *JSONRepository {
	return &JSONRepository{
		basePath: basePath,
		logger:   logger,
	}
}

// AddHistoryEntry stores entry as the newest one, assigning an ID and a
// timestamp when missing, and returns what was stored.
func (r *JSONRepository) AddHistoryEntry(entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	entry = prepareEntry(entry)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBaseDir(); err != nil {
		return entry, err
	}
	var history []domain.HistoryEntry
	if err := r.load(historyFile, &history); err != nil {
		return entry, fmt.Errorf("load history: %w", err)
	}
	if err := r.save(historyFile, prependEntry(history, entry)); err != nil {
		return entry, fmt.Errorf("save history: %w", err)
	}

	r.logger.Debug("saved history entry",
		slog.String("id", entry.ID),
		slog.String("method", entry.Method))
	return entry, nil
}

// GetHistory returns up to limit entries, newest first. A limit <= 0
// returns everything.
func (r *JSONRepository) GetHistory(limit int) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var history []domain.HistoryEntry
	if err := r.load(historyFile, &history); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history = limitEntries(history, limit)
	r.logger.Debug("loaded history", slog.Int("count", len(history)))
	return history, nil
}

// FindHistoryEntry returns the entry whose ID is id or starts with id.
func (r *JSONRepository) FindHistoryEntry(id string) (domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var history []domain.HistoryEntry
	if err := r.load(historyFile, &history); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("load history: %w", err)
	}
	return findEntry(history, id)
}

func (r *JSONRepository) ClearHistory() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(historyFile)
}

// SaveRecentConnection moves conn to the front of the recent list.
func (r *JSONRepository) SaveRecentConnection(conn domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBaseDir(); err != nil {
		return err
	}
	var recent []domain.Connection
	if err := r.load(recentFile, &recent); err != nil {
		return fmt.Errorf("load recent connections: %w", err)
	}
	if err := r.save(recentFile, prependRecent(recent, conn)); err != nil {
		return fmt.Errorf("save recent connections: %w", err)
	}
	r.logger.Debug("saved recent connection", slog.String("address", conn.Address))
	return nil
}

func (r *JSONRepository) GetRecentConnections() ([]domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recent []domain.Connection
	if err := r.load(recentFile, &recent); err != nil {
		return nil, fmt.Errorf("load recent connections: %w", err)
	}
	return recent, nil
}

func (r *JSONRepository) ClearRecentConnections() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(recentFile)
}

func (r *JSONRepository) ensureBaseDir() error {
	if err := os.MkdirAll(r.basePath, dirPermission); err != nil {
		return fmt.Errorf("create base directory: %w", err)
	}
	return nil
}

// load decodes name into v. A missing file leaves v untouched.
func (r *JSONRepository) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

func (r *JSONRepository) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return atomicWriteFile(filepath.Join(r.basePath, name), data, filePermission)
}

// remove deletes name. A missing file is already clear.
func (r *JSONRepository) remove(name string) error {
	if err := os.Remove(filepath.Join(r.basePath, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	r.logger.Debug("cleared", slog.String("file", name))
	return nil
}

// atomicWriteFile writes data to a file atomically by writing to a temp file
// in the same directory, syncing, then renaming over the target path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	// Clean up temp file on any failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
