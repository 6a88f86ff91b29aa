package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a cache entry does not exist in the store.
var ErrNotFound = errors.New("cache entry not found")

// Entry is the persisted metadata record for one locally cached asset.
type Entry struct {
	ID             string
	SourceURL      string
	LocalPath      string
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// EntryStore persists cache entry metadata across process restarts.
type EntryStore interface {
	// LoadAll reads the full entry table. Called once at startup before
	// the index is reconciled against the filesystem.
	LoadAll() ([]Entry, error)

	// Save inserts or replaces the entry keyed by entry.ID.
	Save(entry Entry) error

	// Touch updates the last-accessed time for id. Missing ids are a no-op.
	Touch(id string, at time.Time) error

	// Remove deletes the entry for id. Missing ids are a no-op.
	Remove(id string) error

	// Clear drops every entry.
	Clear() error
}
