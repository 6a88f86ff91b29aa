package cache

import (
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_PutGetRemove(t *testing.T) {
	idx := NewIndex()

	now := time.Now()
	idx.Put(storage.Entry{ID: "m1", LocalPath: "/cache/m1.audio", SizeBytes: 100, CreatedAt: now, LastAccessedAt: now})
	idx.Put(storage.Entry{ID: "m2", LocalPath: "/cache/m2.audio", SizeBytes: 50, CreatedAt: now, LastAccessedAt: now})

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, int64(150), idx.TotalBytes())
	assert.True(t, idx.Contains("m1"))

	path, ok := idx.Path("m2")
	require.True(t, ok)
	assert.Equal(t, "/cache/m2.audio", path)

	entry, ok := idx.Remove("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", entry.ID)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, int64(50), idx.TotalBytes())

	_, ok = idx.Remove("m1")
	assert.False(t, ok)
}

func TestIndex_PutReplaceAdjustsTotals(t *testing.T) {
	idx := NewIndex()

	now := time.Now()
	idx.Put(storage.Entry{ID: "m1", SizeBytes: 100, CreatedAt: now, LastAccessedAt: now})
	idx.Put(storage.Entry{ID: "m1", SizeBytes: 40, CreatedAt: now, LastAccessedAt: now})

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, int64(40), idx.TotalBytes())
}

func TestIndex_Touch(t *testing.T) {
	idx := NewIndex()

	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	idx.Put(storage.Entry{ID: "m1", SizeBytes: 1, CreatedAt: created, LastAccessedAt: created})

	touched := created.Add(time.Minute)
	require.True(t, idx.Touch("m1", touched))

	entry, ok := idx.Get("m1")
	require.True(t, ok)
	assert.True(t, touched.Equal(entry.LastAccessedAt))

	assert.False(t, idx.Touch("missing", touched))
}

func TestIndex_LoadAndReset(t *testing.T) {
	idx := NewIndex()

	now := time.Now()
	idx.Load([]storage.Entry{
		{ID: "m1", SizeBytes: 10, LastAccessedAt: now},
		{ID: "m2", SizeBytes: 20, LastAccessedAt: now},
	})

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, int64(30), idx.TotalBytes())

	idx.Reset()
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, int64(0), idx.TotalBytes())
}

func TestIndex_Stats(t *testing.T) {
	idx := NewIndex()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	idx.Put(storage.Entry{ID: "m1", SizeBytes: 10, LastAccessedAt: now.Add(-time.Hour)})
	idx.Put(storage.Entry{ID: "m2", SizeBytes: 20, LastAccessedAt: now.Add(-time.Minute)})

	stats := idx.Stats(now)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(30), stats.TotalBytes)
	assert.Equal(t, time.Hour, stats.OldestAccess)
	assert.Equal(t, time.Minute, stats.NewestAccess)
}
