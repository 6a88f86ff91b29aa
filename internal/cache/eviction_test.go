package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func makeEntries(n int, sizeBytes int64, base time.Time) []storage.Entry {
	entries := make([]storage.Entry, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%02d", i)
		at := base.Add(time.Duration(i) * time.Minute)
		entries = append(entries, storage.Entry{
			ID: id, SizeBytes: sizeBytes, CreatedAt: at, LastAccessedAt: at,
		})
	}

	return entries
}

func TestVictims_UnderBothLimitsIsNoop(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := makeEntries(10, 1*mb, base)

	victims := Victims(entries, Limits{MaxBytes: 100 * mb, MaxEntries: 50}, nil)
	assert.Empty(t, victims)
}

// 60 entries of 2 MB each is 120 MB, over the 100 MB budget; the eviction
// batch is ceil(60*0.2) = 12 oldest-by-access entries.
func TestVictims_OverByteLimitEvictsOldestBatch(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := makeEntries(60, 2*mb, base)

	victims := Victims(entries, Limits{MaxBytes: 100 * mb, MaxEntries: 100}, nil)
	require.Len(t, victims, 12)

	for i, id := range victims {
		assert.Equal(t, fmt.Sprintf("m%02d", i), id)
	}
}

func TestVictims_OverEntryCountLimit(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := makeEntries(51, 1, base)

	victims := Victims(entries, Limits{MaxBytes: 100 * mb, MaxEntries: 50}, nil)
	// ceil(51*0.2) = 11
	assert.Len(t, victims, 11)
}

func TestVictims_ExcludesActiveTransfers(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := makeEntries(10, 20*mb, base) // 200 MB, over budget

	// The two oldest entries are in flight and must be skipped.
	exclude := map[string]struct{}{"m00": {}, "m01": {}}

	victims := Victims(entries, Limits{MaxBytes: 100 * mb, MaxEntries: 50}, exclude)
	require.Len(t, victims, 2) // ceil(10*0.2)

	assert.NotContains(t, victims, "m00")
	assert.NotContains(t, victims, "m01")
	assert.Equal(t, []string{"m02", "m03"}, victims)
}

func TestVictims_AccessOrderNotInsertionOrder(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := makeEntries(5, 30*mb, base) // 150 MB, over budget

	// The oldest-created entry was touched recently; it must survive.
	entries[0].LastAccessedAt = base.Add(time.Hour)

	victims := Victims(entries, Limits{MaxBytes: 100 * mb, MaxEntries: 50}, nil)
	require.Len(t, victims, 1)
	assert.Equal(t, "m01", victims[0])
}
