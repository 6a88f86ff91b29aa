package fetch

import (
	"context"

	"github.com/italolelis/media_cache/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch streams a remote asset with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, url, dest string, onProgress ProgressFunc) error {
	return f.telemetry.InstrumentClientOperation(ctx, "http", "fetch", func(ctx context.Context) error {
		return f.fetcher.Fetch(ctx, url, dest, onProgress)
	})
}
