// Package cache holds the in-memory cache index and the eviction policy.
//
// The index is an in-memory mirror of the persisted entry table and is the
// single source of truth for "is this id cached". All mutations come from the
// download engine, which serializes them; the index keeps its own lock only so
// lookups and stats don't have to go through the engine.
package cache

import (
	"sync"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
)

// Index mirrors the metadata store in memory and tracks running totals.
type Index struct {
	mu         sync.RWMutex
	entries    map[string]storage.Entry
	totalBytes int64
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]storage.Entry)}
}

// Load replaces the index contents with the given entries.
func (i *Index) Load(entries []storage.Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries = make(map[string]storage.Entry, len(entries))
	i.totalBytes = 0

	for _, entry := range entries {
		i.entries[entry.ID] = entry
		i.totalBytes += entry.SizeBytes
	}
}

// Get returns the entry for id, if cached.
func (i *Index) Get(id string) (storage.Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entry, ok := i.entries[id]

	return entry, ok
}

// Contains reports whether id is cached.
func (i *Index) Contains(id string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.entries[id]

	return ok
}

// Path returns the local path for id, if cached.
func (i *Index) Path(id string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entry, ok := i.entries[id]

	return entry.LocalPath, ok
}

// Put inserts or replaces the entry keyed by entry.ID.
func (i *Index) Put(entry storage.Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.entries[entry.ID]; ok {
		i.totalBytes -= existing.SizeBytes
	}

	i.entries[entry.ID] = entry
	i.totalBytes += entry.SizeBytes
}

// Remove deletes the entry for id and returns it. Missing ids are a no-op.
func (i *Index) Remove(id string) (storage.Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.entries[id]
	if !ok {
		return storage.Entry{}, false
	}

	delete(i.entries, id)
	i.totalBytes -= entry.SizeBytes

	return entry, true
}

// Touch updates the last-accessed time for id.
func (i *Index) Touch(id string, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.entries[id]
	if !ok {
		return false
	}

	entry.LastAccessedAt = at
	i.entries[id] = entry

	return true
}

// Len returns the number of cached entries.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.entries)
}

// TotalBytes returns the total size of all cached entries.
func (i *Index) TotalBytes() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.totalBytes
}

// Entries returns a snapshot of all cached entries.
func (i *Index) Entries() []storage.Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries := make([]storage.Entry, 0, len(i.entries))
	for _, entry := range i.entries {
		entries = append(entries, entry)
	}

	return entries
}

// Reset drops every entry.
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries = make(map[string]storage.Entry)
	i.totalBytes = 0
}
