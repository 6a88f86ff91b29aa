package sqlite

import (
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *EntryRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewEntryRepository(db)
}

func TestEntryRepository_SaveAndLoadRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entry := storage.Entry{
		ID:             "m1",
		SourceURL:      "https://x/a.audio",
		LocalPath:      "/cache/abc.audio",
		SizeBytes:      2048,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	require.NoError(t, repo.Save(entry))

	loaded, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	assert.Equal(t, entry.SourceURL, loaded[0].SourceURL)
	assert.Equal(t, entry.LocalPath, loaded[0].LocalPath)
	assert.Equal(t, entry.SizeBytes, loaded[0].SizeBytes)
	assert.True(t, entry.CreatedAt.Equal(loaded[0].CreatedAt))
	assert.True(t, entry.LastAccessedAt.Equal(loaded[0].LastAccessedAt))
}

func TestEntryRepository_SaveReplacesExisting(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Now()
	entry := storage.Entry{ID: "m1", SourceURL: "https://x/a.audio", LocalPath: "/cache/a.audio", SizeBytes: 10, CreatedAt: now, LastAccessedAt: now}
	require.NoError(t, repo.Save(entry))

	entry.SizeBytes = 20
	entry.SourceURL = "https://x/b.audio"
	require.NoError(t, repo.Save(entry))

	loaded, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, int64(20), loaded[0].SizeBytes)
	assert.Equal(t, "https://x/b.audio", loaded[0].SourceURL)
}

func TestEntryRepository_Touch(t *testing.T) {
	repo := newTestRepository(t)

	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(storage.Entry{
		ID: "m1", SourceURL: "u", LocalPath: "p", SizeBytes: 1,
		CreatedAt: created, LastAccessedAt: created,
	}))

	touched := created.Add(time.Hour)
	require.NoError(t, repo.Touch("m1", touched))

	loaded, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, touched.Equal(loaded[0].LastAccessedAt))
	assert.True(t, created.Equal(loaded[0].CreatedAt))
}

func TestEntryRepository_TouchMissingIsNoop(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Touch("missing", time.Now()))
}

func TestEntryRepository_RemoveMissingIsNoop(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Remove("missing"))
}

func TestEntryRepository_Clear(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Now()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repo.Save(storage.Entry{ID: id, SourceURL: "u", LocalPath: "p-" + id, SizeBytes: 1, CreatedAt: now, LastAccessedAt: now}))
	}

	require.NoError(t, repo.Clear())

	loaded, err := repo.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Clearing an already empty table must not fail.
	require.NoError(t, repo.Clear())
}
