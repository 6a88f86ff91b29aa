// Package downloader implements the download/cache engine: a priority queue
// of transfer tasks drained by a bounded worker pool, backed by an on-disk
// cache with LRU eviction and a persistent metadata store.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_cache/internal/cache"
	"github.com/italolelis/media_cache/internal/fetch"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/storage"
	"github.com/italolelis/media_cache/internal/telemetry"
	"github.com/spf13/afero"
)

const (
	DefaultMaxCacheBytes = 100 * 1024 * 1024
	DefaultMaxEntries    = 50
	DefaultMaxConcurrent = 3
	DefaultMaxAttempts   = 3
	DefaultWaitTimeout   = 2 * time.Minute
)

// DefaultRetryDelays is indexed by attempt number: the first failure waits
// 2s before re-enqueueing, the second 5s, the third 10s.
var DefaultRetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

const (
	dirPerm = 0o755

	// cacheExt is the fixed extension for cached assets; ids are opaque so
	// the on-disk name is derived from a hash of the id.
	cacheExt = ".audio"
	partExt  = ".part"
	tmpDir   = "tmp"
)

// Config bounds the engine's storage and concurrency.
type Config struct {
	CacheDir      string
	MaxCacheBytes int64
	MaxEntries    int
	MaxConcurrent int
	MaxAttempts   int
	RetryDelays   []time.Duration
	WaitTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxCacheBytes <= 0 {
		c.MaxCacheBytes = DefaultMaxCacheBytes
	}

	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}

	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if len(c.RetryDelays) == 0 {
		c.RetryDelays = DefaultRetryDelays
	}

	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}

	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithFs sets the filesystem implementation, e.g. an in-memory filesystem
// for tests.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) {
		e.fs = fs
	}
}

// WithTelemetry attaches telemetry instruments to the engine.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.telemetry = tel
	}
}

// Engine is the request coordinator for cached media assets. It owns the
// download queue, the active transfer set, the retry timers and the cache
// index; all of them are guarded by a single mutex.
type Engine struct {
	cfg       Config
	store     storage.EntryStore
	fetcher   fetch.Fetcher
	index     *cache.Index
	fs        afero.Fs
	telemetry *telemetry.Telemetry

	mu      sync.Mutex
	pending queue
	tasks   map[string]*task // non-terminal tasks by id
	active  map[string]context.CancelFunc
	retries map[string]*time.Timer
	closed  bool

	wake      chan struct{}
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	// OnDownloadFailed receives downloads that exhausted their retry
	// budget. Events are dropped when nobody is draining the channel.
	OnDownloadFailed chan FailedDownload
}

// Open creates the cache directory, loads and reconciles persisted metadata
// against the filesystem, and starts the dispatcher. The returned engine must
// be released with Close.
func Open(ctx context.Context, cfg Config, store storage.EntryStore, fetcher fetch.Fetcher, options ...Option) (*Engine, error) {
	e := &Engine{
		cfg:              cfg.withDefaults(),
		store:            store,
		fetcher:          fetcher,
		index:            cache.NewIndex(),
		fs:               afero.NewOsFs(),
		tasks:            make(map[string]*task),
		active:           make(map[string]context.CancelFunc),
		retries:          make(map[string]*time.Timer),
		wake:             make(chan struct{}, 1),
		OnDownloadFailed: make(chan FailedDownload, 16),
	}

	for _, option := range options {
		option(e)
	}

	if err := e.fs.MkdirAll(filepath.Join(e.cfg.CacheDir, tmpDir), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := e.reconcile(ctx); err != nil {
		return nil, fmt.Errorf("failed to reconcile cache state: %w", err)
	}

	e.baseCtx, e.cancelAll = context.WithCancel(ctx)

	e.wg.Add(1)

	go e.dispatchLoop()

	return e, nil
}

// Close cancels all pending and active work and waits for workers to drain.
// Queued and retrying tasks are released with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true

	for id, timer := range e.retries {
		timer.Stop()
		delete(e.retries, id)
	}

	for id, t := range e.tasks {
		switch t.status {
		case StatusQueued:
			e.pending.remove(id)
		case StatusRetrying:
		default:
			continue // active transfers finish via context cancellation
		}

		t.status = StatusCancelled
		delete(e.tasks, id)
		t.finish("", ErrClosed)
	}

	e.mu.Unlock()

	e.cancelAll()
	e.wg.Wait()

	close(e.OnDownloadFailed)

	return nil
}

// GetFile returns the local path for id, downloading it from sourceURL when
// not cached. Concurrent calls for the same id coalesce onto one transfer.
// The wait is bounded by the configured timeout; on timeout the transfer is
// cancelled and ErrWaitTimeout returned.
func (e *Engine) GetFile(ctx context.Context, id, sourceURL string, priority Priority) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("asset_id", id)

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return "", ErrClosed
	}

	if entry, ok := e.index.Get(id); ok {
		now := time.Now()
		e.index.Touch(id, now)

		if err := e.store.Touch(id, now); err != nil {
			logger.Warn("failed to persist access time", "err", err)
		}

		e.mu.Unlock()

		e.telemetry.RecordCacheHit()

		return entry.LocalPath, nil
	}

	t, ok := e.tasks[id]
	if !ok {
		t = newTask(id, sourceURL, priority)
		e.tasks[id] = t
		e.pending.push(t)

		logger.Debug("download queued", "priority", priority.String())
	}

	e.mu.Unlock()

	e.telemetry.RecordCacheMiss()
	e.signalDispatch()

	timer := time.NewTimer(e.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.path, t.err
	case <-ctx.Done():
		// The caller went away; the transfer keeps going for other waiters.
		return "", ctx.Err()
	case <-timer.C:
		logger.Warn("wait for download timed out, cancelling", "timeout", e.cfg.WaitTimeout.String())
		e.Cancel(id)

		return "", ErrWaitTimeout
	}
}

// Cancel aborts the pending or active download for id. Cached entries are
// not touched. Unknown ids are a no-op.
func (e *Engine) Cancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return
	}

	switch t.status {
	case StatusQueued:
		e.pending.remove(id)
	case StatusRetrying:
		if timer, ok := e.retries[id]; ok {
			timer.Stop()
			delete(e.retries, id)
		}
	case StatusDownloading:
		if cancel, ok := e.active[id]; ok {
			cancel()
		}

		// The worker observes the cancellation, cleans up the partial
		// file and finishes the task.
		return
	default:
		return
	}

	t.status = StatusCancelled
	delete(e.tasks, id)
	t.finish("", ErrCancelled)
}

// IsCached reports whether id has a committed local file.
func (e *Engine) IsCached(id string) bool {
	return e.index.Contains(id)
}

// Entry returns the cache entry for id, if cached.
func (e *Engine) Entry(id string) (storage.Entry, bool) {
	return e.index.Get(id)
}

// Path returns the local path for id, if cached. The access time is not
// refreshed; use GetFile for reads that should count as usage.
func (e *Engine) Path(id string) (string, bool) {
	return e.index.Path(id)
}

// CacheSizeBytes returns the total size of all cached entries.
func (e *Engine) CacheSizeBytes() int64 {
	return e.index.TotalBytes()
}

// Stats returns a snapshot of the cache contents.
func (e *Engine) Stats() cache.Stats {
	return e.index.Stats(time.Now())
}

// QueueDepth returns the number of queued (not yet dispatched) tasks.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pending.len()
}

// TaskStatus returns the lifecycle state of the non-terminal task for id.
func (e *Engine) TaskStatus(id string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return 0, false
	}

	return t.status, true
}

// Progress subscribes to progress updates for the non-terminal task for id.
// The channel closes when the task reaches a terminal state.
func (e *Engine) Progress(id string) (<-chan Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, false
	}

	sub := make(chan Progress, 8)
	t.subs = append(t.subs, sub)

	return sub, true
}

// ClearCache removes every committed entry and its backing file. In-flight
// transfers are unaffected; their results commit normally afterwards.
// Clearing an empty cache is a no-op.
func (e *Engine) ClearCache() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range e.index.Entries() {
		if err := e.fs.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove cached file: %w", err)
		}
	}

	if err := e.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear metadata store: %w", err)
	}

	e.index.Reset()

	return nil
}

// entryPath derives the on-disk location for an id. Ids are opaque caller
// keys, so the filename is a hash, not the id itself.
func (e *Engine) entryPath(id string) string {
	return filepath.Join(e.cfg.CacheDir, fmt.Sprintf("%016x%s", xxhash.Sum64String(id), cacheExt))
}

func (e *Engine) tmpPath(id string) string {
	return filepath.Join(e.cfg.CacheDir, tmpDir, fmt.Sprintf("%016x%s", xxhash.Sum64String(id), partExt))
}

// reconcile repairs divergence between the persisted metadata and the files
// actually on disk: entries without a backing file are dropped, files without
// an entry are deleted, and stale partials are cleared.
func (e *Engine) reconcile(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := e.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	kept := make([]storage.Entry, 0, len(entries))
	known := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if _, err := e.fs.Stat(entry.LocalPath); err != nil {
			logger.Warn("dropping entry without backing file", "asset_id", entry.ID, "path", entry.LocalPath)

			if err := e.store.Remove(entry.ID); err != nil {
				return fmt.Errorf("failed to drop dangling entry: %w", err)
			}

			continue
		}

		kept = append(kept, entry)
		known[filepath.Base(entry.LocalPath)] = struct{}{}
	}

	e.index.Load(kept)

	infos, err := afero.ReadDir(e.fs, e.cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	for _, info := range infos {
		if info.IsDir() {
			continue
		}

		if _, ok := known[info.Name()]; ok {
			continue
		}

		logger.Warn("deleting orphan cache file", "file", info.Name())

		if err := e.fs.Remove(filepath.Join(e.cfg.CacheDir, info.Name())); err != nil {
			return fmt.Errorf("failed to delete orphan file: %w", err)
		}
	}

	partials, err := afero.ReadDir(e.fs, filepath.Join(e.cfg.CacheDir, tmpDir))
	if err != nil {
		return fmt.Errorf("failed to scan partials directory: %w", err)
	}

	for _, info := range partials {
		_ = e.fs.Remove(filepath.Join(e.cfg.CacheDir, tmpDir, info.Name()))
	}

	logger.Info("cache reconciled",
		"entries", len(kept),
		"total_size", humanize.Bytes(uint64(e.index.TotalBytes())),
	)

	return nil
}

// signalDispatch nudges the dispatcher without blocking.
func (e *Engine) signalDispatch() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-e.wake:
			e.dispatch()
		}
	}
}

// dispatch starts queued tasks while the active set has spare capacity.
// Scheduling decisions happen only here; running transfers are never
// preempted by later, higher-priority arrivals.
func (e *Engine) dispatch() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	for len(e.active) < e.cfg.MaxConcurrent {
		t := e.pending.pop()
		if t == nil {
			return
		}

		t.status = StatusDownloading

		ctx, cancel := context.WithCancel(e.baseCtx)
		e.active[t.id] = cancel

		e.wg.Add(1)

		go e.transfer(ctx, t)
	}
}

// transfer runs one download attempt to completion and settles the task:
// commit on success, cleanup plus retry or terminal failure otherwise.
func (e *Engine) transfer(ctx context.Context, t *task) {
	defer e.wg.Done()

	logger := logctx.LoggerFromContext(ctx).With("asset_id", t.id)
	start := time.Now()

	tmp := e.tmpPath(t.id)

	e.telemetry.IncrementActiveDownloads()
	defer e.telemetry.DecrementActiveDownloads()

	fetchErr := e.fetcher.Fetch(ctx, t.sourceURL, tmp, func(received, total int64) {
		e.mu.Lock()
		t.publish(Progress{Received: received, Total: total})
		e.mu.Unlock()

		logger.Debug("download progress",
			"received", humanize.Bytes(uint64(received)),
			"total", humanize.Bytes(uint64(max(total, 0))),
		)
	})

	e.mu.Lock()

	if cancel, ok := e.active[t.id]; ok {
		delete(e.active, t.id)
		defer cancel()
	}

	switch {
	case ctx.Err() != nil:
		_ = e.fs.Remove(tmp)

		t.status = StatusCancelled
		delete(e.tasks, t.id)
		t.finish("", ErrCancelled)

		logger.Info("download cancelled")
		e.telemetry.RecordDownload("cancelled", time.Since(start))
	case fetchErr == nil:
		if entry, err := e.commitLocked(t, tmp); err != nil {
			// Commit failures (rename, metadata write, disk full) go
			// through the ordinary retry path.
			e.settleFailureLocked(t, err, logger)
			e.telemetry.RecordDownload("error", time.Since(start))
		} else {
			t.status = StatusCompleted
			delete(e.tasks, t.id)
			t.finish(entry.LocalPath, nil)

			e.evictLocked(logger)

			logger.Info("download completed",
				"path", entry.LocalPath,
				"size", humanize.Bytes(uint64(entry.SizeBytes)),
				"duration", time.Since(start).String(),
			)
			e.telemetry.RecordDownload("success", time.Since(start))
		}
	default:
		_ = e.fs.Remove(tmp)

		e.settleFailureLocked(t, fetchErr, logger)
		e.telemetry.RecordDownload("error", time.Since(start))
	}

	e.mu.Unlock()

	e.signalDispatch()
}

// commitLocked atomically moves the finished partial into the cache and
// records the entry. Called with the engine mutex held so commits and
// evictions never interleave on the same entry.
func (e *Engine) commitLocked(t *task, tmp string) (storage.Entry, error) {
	info, err := e.fs.Stat(tmp)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	dest := e.entryPath(t.id)

	if err := e.fs.Rename(tmp, dest); err != nil {
		_ = e.fs.Remove(tmp)

		return storage.Entry{}, fmt.Errorf("failed to move file into cache: %w", err)
	}

	now := time.Now()
	entry := storage.Entry{
		ID:             t.id,
		SourceURL:      t.sourceURL,
		LocalPath:      dest,
		SizeBytes:      info.Size(),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := e.store.Save(entry); err != nil {
		_ = e.fs.Remove(dest)

		return storage.Entry{}, fmt.Errorf("failed to persist cache entry: %w", err)
	}

	e.index.Put(entry)

	return entry, nil
}

// settleFailureLocked applies the retry policy after a failed attempt:
// schedule a delayed re-enqueue while attempts remain, otherwise finish the
// task as failed.
func (e *Engine) settleFailureLocked(t *task, cause error, logger *slog.Logger) {
	t.attempts++

	if t.attempts < e.cfg.MaxAttempts && !e.closed {
		delay := e.cfg.RetryDelays[min(t.attempts-1, len(e.cfg.RetryDelays)-1)]
		t.status = StatusRetrying

		logger.Warn("download failed, scheduling retry",
			"attempt", t.attempts,
			"delay", delay.String(),
			"err", cause,
		)

		e.scheduleRetryLocked(t, delay)
		e.telemetry.RecordDownloadRetry()

		return
	}

	t.status = StatusFailed
	delete(e.tasks, t.id)
	t.finish("", fmt.Errorf("%w: %w", ErrRetriesExhausted, cause))

	logger.Error("download failed permanently", "attempts", t.attempts, "err", cause)

	select {
	case e.OnDownloadFailed <- FailedDownload{ID: t.id, SourceURL: t.sourceURL, Err: cause}:
	default:
	}
}

// scheduleRetryLocked arms the re-enqueue timer for a retrying task. The
// timer is discarded when the task is cancelled before it fires.
func (e *Engine) scheduleRetryLocked(t *task, delay time.Duration) {
	e.retries[t.id] = time.AfterFunc(delay, func() {
		e.mu.Lock()

		delete(e.retries, t.id)

		if e.closed || t.status != StatusRetrying {
			e.mu.Unlock()

			return
		}

		t.status = StatusQueued
		e.pending.push(t)

		e.mu.Unlock()

		e.signalDispatch()
	})
}

// evictLocked enforces the cache limits after a commit. Entries with an
// active transfer are never candidates.
func (e *Engine) evictLocked(logger *slog.Logger) {
	exclude := make(map[string]struct{}, len(e.active))
	for id := range e.active {
		exclude[id] = struct{}{}
	}

	limits := cache.Limits{MaxBytes: e.cfg.MaxCacheBytes, MaxEntries: e.cfg.MaxEntries}

	victims := cache.Victims(e.index.Entries(), limits, exclude)
	if len(victims) == 0 {
		return
	}

	for _, id := range victims {
		entry, ok := e.index.Remove(id)
		if !ok {
			continue
		}

		if err := e.fs.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Info("failed to delete evicted file", "asset_id", id, "err", err)
		}

		if err := e.store.Remove(id); err != nil {
			logger.Info("failed to drop evicted entry", "asset_id", id, "err", err)
		}
	}

	e.telemetry.RecordEviction(len(victims))
	e.telemetry.RecordCacheSize(e.index.TotalBytes(), e.index.Len())

	logger.Info("evicted least recently used entries",
		"evicted", len(victims),
		"remaining", e.index.Len(),
		"total_size", humanize.Bytes(uint64(e.index.TotalBytes())),
	)
}
