package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
	"github.com/italolelis/media_cache/internal/telemetry"
)

// InstrumentedEntryRepository wraps EntryRepository with telemetry.
type InstrumentedEntryRepository struct {
	repo      *EntryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedEntryRepository creates a new instrumented entry repository.
func NewInstrumentedEntryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedEntryRepository {
	return &InstrumentedEntryRepository{
		repo:      NewEntryRepository(dbConn),
		telemetry: tel,
	}
}

// LoadAll reads the full entry table with telemetry.
func (r *InstrumentedEntryRepository) LoadAll() ([]storage.Entry, error) {
	var result []storage.Entry

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "load_all", func(ctx context.Context) error {
		result, err = r.repo.LoadAll()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Save persists an entry with telemetry.
func (r *InstrumentedEntryRepository) Save(entry storage.Entry) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save", func(ctx context.Context) error {
		return r.repo.Save(entry)
	})
}

// Touch updates the last-accessed time with telemetry.
func (r *InstrumentedEntryRepository) Touch(id string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "touch", func(ctx context.Context) error {
		return r.repo.Touch(id, at)
	})
}

// Remove deletes an entry with telemetry.
func (r *InstrumentedEntryRepository) Remove(id string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "remove", func(ctx context.Context) error {
		return r.repo.Remove(id)
	})
}

// Clear drops every entry with telemetry.
func (r *InstrumentedEntryRepository) Clear() error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "clear", func(ctx context.Context) error {
		return r.repo.Clear()
	})
}
