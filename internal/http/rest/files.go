package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_cache/internal/cache"
	"github.com/italolelis/media_cache/internal/downloader"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/storage"
	"github.com/italolelis/media_cache/internal/telemetry"
)

// CacheService is the slice of the download engine the HTTP surface needs.
type CacheService interface {
	GetFile(ctx context.Context, id, sourceURL string, priority downloader.Priority) (string, error)
	Cancel(id string)
	Entry(id string) (storage.Entry, bool)
	TaskStatus(id string) (downloader.Status, bool)
	Stats() cache.Stats
	QueueDepth() int
	ClearCache() error
}

type FileRequest struct {
	SourceURL string `json:"source_url"`
	Priority  string `json:"priority,omitempty"`
}

type FileResponse struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"`
	SizeBytes      int64     `json:"size_bytes,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
}

type PendingResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type StatsResponse struct {
	Entries         int    `json:"entries"`
	TotalBytes      int64  `json:"total_bytes"`
	QueueDepth      int    `json:"queue_depth"`
	OldestAccessAge string `json:"oldest_access_age,omitempty"`
	NewestAccessAge string `json:"newest_access_age,omitempty"`
}

// CacheHandler exposes the download engine over HTTP.
type CacheHandler struct {
	username  string
	password  string
	svc       CacheService
	telemetry *telemetry.Telemetry
}

// NewCacheHandler creates a new cache handler. Basic auth is enforced only
// when a username is configured.
func NewCacheHandler(username, password string, svc CacheService, t *telemetry.Telemetry) *CacheHandler {
	return &CacheHandler{
		username:  username,
		password:  password,
		svc:       svc,
		telemetry: t,
	}
}

func (h *CacheHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/files/{id}", h.HandleGetFile)
	r.Get("/files/{id}", h.HandleFileInfo)
	r.Delete("/files/{id}", h.HandleCancel)
	r.Get("/cache/stats", h.HandleStats)
	r.Delete("/cache", h.HandleClear)

	return r
}

// HandleGetFile resolves an asset to a local path, blocking until the
// download finishes, fails or the wait ceiling is hit.
func (h *CacheHandler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	id := chi.URLParam(r, "id")

	var req FileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.SourceURL == "" {
		http.Error(w, "source_url is required", http.StatusBadRequest)

		return
	}

	priority, err := downloader.ParsePriority(req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	path, err := h.svc.GetFile(r.Context(), id, req.SourceURL, priority)
	if err != nil {
		logger.Error("failed to resolve file", "asset_id", id, "err", err)
		writeEngineError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, FileResponse{ID: id, Path: path})
}

// HandleFileInfo reports the cache entry for an asset, or the state of its
// in-flight download.
func (h *CacheHandler) HandleFileInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if entry, ok := h.svc.Entry(id); ok {
		writeJSON(w, http.StatusOK, FileResponse{
			ID:             id,
			Path:           entry.LocalPath,
			SizeBytes:      entry.SizeBytes,
			CreatedAt:      entry.CreatedAt,
			LastAccessedAt: entry.LastAccessedAt,
		})

		return
	}

	if status, ok := h.svc.TaskStatus(id); ok {
		writeJSON(w, http.StatusAccepted, PendingResponse{ID: id, Status: status.String()})

		return
	}

	http.Error(w, "file not cached", http.StatusNotFound)
}

// HandleCancel aborts the pending or active download for an asset. Cancelling
// an unknown asset is not an error.
func (h *CacheHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.svc.Cancel(id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()

	resp := StatsResponse{
		Entries:    stats.Entries,
		TotalBytes: stats.TotalBytes,
		QueueDepth: h.svc.QueueDepth(),
	}

	if stats.Entries > 0 {
		resp.OldestAccessAge = stats.OldestAccess.String()
		resp.NewestAccessAge = stats.NewestAccess.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if err := h.svc.ClearCache(); err != nil {
		logger.Error("failed to clear cache", "err", err)
		http.Error(w, "failed to clear cache", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeEngineError maps engine failures onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, downloader.ErrWaitTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, downloader.ErrRetriesExhausted):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, downloader.ErrCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, downloader.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		// The client went away; the status code is never seen.
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
