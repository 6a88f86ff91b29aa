package cache

import "time"

// Stats describes the current cache contents.
type Stats struct {
	Entries      int
	TotalBytes   int64
	OldestAccess time.Duration // age of the least recently used entry
	NewestAccess time.Duration // age of the most recently used entry
}

// Stats returns statistics about the cache relative to now.
func (i *Index) Stats(now time.Time) Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	stats := Stats{
		Entries:    len(i.entries),
		TotalBytes: i.totalBytes,
	}

	var oldest, newest time.Time

	for _, entry := range i.entries {
		if oldest.IsZero() || entry.LastAccessedAt.Before(oldest) {
			oldest = entry.LastAccessedAt
		}

		if newest.IsZero() || entry.LastAccessedAt.After(newest) {
			newest = entry.LastAccessedAt
		}
	}

	if !oldest.IsZero() {
		stats.OldestAccess = now.Sub(oldest)
		stats.NewestAccess = now.Sub(newest)
	}

	return stats
}
