package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shhac/dynrpc/internal/domain"
)

const (
	maxRecent  = 10
	maxHistory = 100
)

// prepareEntry fills in the ID and timestamp of a new entry.
func prepareEntry(entry domain.HistoryEntry) domain.HistoryEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry
}

// prependEntry adds entry in front, trimming to maxHistory.
func prependEntry(history []domain.HistoryEntry, entry domain.HistoryEntry) []domain.HistoryEntry {
	history = append([]domain.HistoryEntry{entry}, history...)
	if len(history) > maxHistory {
		history = history[:maxHistory]
	}
	return history
}

func limitEntries(history []domain.HistoryEntry, limit int) []domain.HistoryEntry {
	if limit > 0 && limit < len(history) {
		history = history[:limit]
	}
	return history
}

// findEntry matches id against full IDs first and then as a unique prefix.
func findEntry(history []domain.HistoryEntry, id string) (domain.HistoryEntry, error) {
	if id == "" {
		return domain.HistoryEntry{}, fmt.Errorf("%w: empty ID", ErrNotFound)
	}
	var match []domain.HistoryEntry
	for _, e := range history {
		if e.ID == id {
			return e, nil
		}
		if strings.HasPrefix(e.ID, id) {
			match = append(match, e)
		}
	}
	switch len(match) {
	case 0:
		return domain.HistoryEntry{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	case 1:
		return match[0], nil
	default:
		return domain.HistoryEntry{}, fmt.Errorf("%w: %q matches %d entries", ErrAmbiguousID, id, len(match))
	}
}

// prependRecent moves conn to the front, dropping other entries with the
// same address and trimming to maxRecent.
func prependRecent(recent []domain.Connection, conn domain.Connection) []domain.Connection {
	out := []domain.Connection{conn}
	for _, r := range recent {
		if r.Address != conn.Address {
			out = append(out, r)
		}
	}
	if len(out) > maxRecent {
		out = out[:maxRecent]
	}
	return out
}
