package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the entries table
// if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		local_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
