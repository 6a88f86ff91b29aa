package downloader

import "errors"

var (
	// ErrCancelled is returned to waiters when a download is cancelled
	// before completing.
	ErrCancelled = errors.New("download cancelled")

	// ErrRetriesExhausted is returned when a download keeps failing after
	// all retry attempts.
	ErrRetriesExhausted = errors.New("download failed after all retry attempts")

	// ErrWaitTimeout is returned when a caller's wait for a download
	// exceeds the configured ceiling. The download is cancelled as a side
	// effect, so other waiters observe ErrCancelled.
	ErrWaitTimeout = errors.New("timed out waiting for download")

	// ErrClosed is returned for requests made after the engine shut down.
	ErrClosed = errors.New("download engine is closed")
)
