package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
)

// EntryRepository stores cache entry metadata in SQLite.
type EntryRepository struct {
	db *sql.DB
}

func NewEntryRepository(dbConn *sql.DB) *EntryRepository {
	return &EntryRepository{db: dbConn}
}

func (r *EntryRepository) LoadAll() ([]storage.Entry, error) {
	rows, err := r.db.Query(`SELECT id, source_url, local_path, size_bytes, created_at, last_accessed_at FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []storage.Entry

	for rows.Next() {
		var entry storage.Entry

		var createdAt, lastAccessedAt string

		if err := rows.Scan(&entry.ID, &entry.SourceURL, &entry.LocalPath, &entry.SizeBytes, &createdAt, &lastAccessedAt); err != nil {
			return nil, err
		}

		entry.CreatedAt = parseTime(createdAt)
		entry.LastAccessedAt = parseTime(lastAccessedAt)

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Save inserts or replaces the entry keyed by entry.ID.
func (r *EntryRepository) Save(entry storage.Entry) error {
	_, err := r.db.Exec(`
		INSERT INTO entries (id, source_url, local_path, size_bytes, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			local_path = excluded.local_path,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at
	`, entry.ID, entry.SourceURL, entry.LocalPath, entry.SizeBytes,
		formatTime(entry.CreatedAt), formatTime(entry.LastAccessedAt))

	return err
}

// Touch updates the last-accessed time for id. Missing ids are a no-op.
func (r *EntryRepository) Touch(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE entries SET last_accessed_at = ? WHERE id = ?`, formatTime(at), id)

	return err
}

// Remove deletes the entry for id. Missing ids are a no-op.
func (r *EntryRepository) Remove(id string) error {
	_, err := r.db.Exec(`DELETE FROM entries WHERE id = ?`, id)

	return err
}

// Clear drops every entry.
func (r *EntryRepository) Clear() error {
	_, err := r.db.Exec(`DELETE FROM entries`)

	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
