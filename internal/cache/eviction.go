package cache

import (
	"math"
	"sort"

	"github.com/italolelis/media_cache/internal/storage"
)

// evictionFraction is the share of entries dropped per eviction run.
const evictionFraction = 0.2

// Limits bounds the cache by total size and entry count.
type Limits struct {
	MaxBytes   int64
	MaxEntries int
}

// Exceeded reports whether either limit is over budget.
func (l Limits) Exceeded(totalBytes int64, count int) bool {
	return totalBytes > l.MaxBytes || count > l.MaxEntries
}

// Victims selects the entries to evict: the oldest ceil(n*0.2) by last access
// time, n being the total entry count. Ids in exclude (in-flight transfers)
// are never selected. Returns nil when the cache is under both limits.
func Victims(entries []storage.Entry, limits Limits, exclude map[string]struct{}) []string {
	var totalBytes int64
	for _, entry := range entries {
		totalBytes += entry.SizeBytes
	}

	if !limits.Exceeded(totalBytes, len(entries)) {
		return nil
	}

	sorted := make([]storage.Entry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].LastAccessedAt.Equal(sorted[b].LastAccessedAt) {
			return sorted[a].CreatedAt.Before(sorted[b].CreatedAt)
		}

		return sorted[a].LastAccessedAt.Before(sorted[b].LastAccessedAt)
	})

	batch := int(math.Ceil(float64(len(entries)) * evictionFraction))

	victims := make([]string, 0, batch)

	for _, entry := range sorted {
		if len(victims) == batch {
			break
		}

		if _, active := exclude[entry.ID]; active {
			continue
		}

		victims = append(victims, entry.ID)
	}

	return victims
}
