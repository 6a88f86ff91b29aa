// Package fetch streams remote assets to local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_cache/internal/fetch/progress"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/spf13/afero"
)

// reportInterval is how many bytes pass between progress callbacks. Assets
// here are short audio clips, so a small interval keeps progress responsive.
const reportInterval = 256 * 1024

const filePerm = 0o644

// ProgressFunc receives cumulative transfer progress. total is -1 when the
// remote does not announce a content length.
type ProgressFunc func(received, total int64)

// Fetcher streams the bytes behind a URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, onProgress ProgressFunc) error
}

// TransferError represents a failed remote fetch, including HTTP error
// responses and connection failures.
type TransferError struct {
	URL        string // Source URL of the failed transfer
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transfer failed for %s (HTTP %d)", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("transfer failed for %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// HTTPFetcher fetches assets over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
	fs     afero.Fs
}

// NewHTTPFetcher creates an HTTP fetcher. A nil client falls back to a client
// with a sane request timeout; a nil fs falls back to the OS filesystem.
func NewHTTPFetcher(client *http.Client, fs afero.Fs) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &HTTPFetcher{client: client, fs: fs}
}

// Fetch streams the response body for url into dest. The destination file is
// created (or truncated) before the first byte arrives; callers own cleanup
// of partial files when an error is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string, onProgress ProgressFunc) error {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &TransferError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &TransferError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := f.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	logger.Debug("fetching file",
		"url", url,
		"size", humanize.Bytes(uint64(max(resp.ContentLength, 0))),
	)

	pr := progress.NewReader(resp.Body, resp.ContentLength, reportInterval, onProgress)

	if _, err := io.Copy(out, pr); err != nil {
		return &TransferError{URL: url, Err: err}
	}

	return nil
}
