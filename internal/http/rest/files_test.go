package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/cache"
	"github.com/italolelis/media_cache/internal/downloader"
	"github.com/italolelis/media_cache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	getFile   func(ctx context.Context, id, sourceURL string, priority downloader.Priority) (string, error)
	entries   map[string]storage.Entry
	statuses  map[string]downloader.Status
	cancelled []string
	stats     cache.Stats
	depth     int
	cleared   bool
	clearErr  error
}

func (s *stubService) GetFile(ctx context.Context, id, sourceURL string, priority downloader.Priority) (string, error) {
	return s.getFile(ctx, id, sourceURL, priority)
}

func (s *stubService) Cancel(id string) {
	s.cancelled = append(s.cancelled, id)
}

func (s *stubService) Entry(id string) (storage.Entry, bool) {
	entry, ok := s.entries[id]

	return entry, ok
}

func (s *stubService) TaskStatus(id string) (downloader.Status, bool) {
	status, ok := s.statuses[id]

	return status, ok
}

func (s *stubService) Stats() cache.Stats { return s.stats }

func (s *stubService) QueueDepth() int { return s.depth }

func (s *stubService) ClearCache() error {
	s.cleared = true

	return s.clearErr
}

func newTestServer(svc *stubService) *httptest.Server {
	return httptest.NewServer(NewCacheHandler("", "", svc, nil).Routes())
}

func TestHandleGetFile(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		getFile    func(ctx context.Context, id, sourceURL string, priority downloader.Priority) (string, error)
		wantStatus int
		wantPath   string
	}{
		{
			name: "resolves to local path",
			body: `{"source_url": "https://cdn/m1", "priority": "high"}`,
			getFile: func(_ context.Context, id, sourceURL string, priority downloader.Priority) (string, error) {
				if sourceURL != "https://cdn/m1" || priority != downloader.PriorityHigh {
					return "", assert.AnError
				}

				return "/cache/m1.audio", nil
			},
			wantStatus: http.StatusOK,
			wantPath:   "/cache/m1.audio",
		},
		{
			name:       "missing source url",
			body:       `{}`,
			getFile:    nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid priority",
			body:       `{"source_url": "https://cdn/m1", "priority": "urgent"}`,
			getFile:    nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{`,
			getFile:    nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "wait timeout maps to 504",
			body: `{"source_url": "https://cdn/m1"}`,
			getFile: func(context.Context, string, string, downloader.Priority) (string, error) {
				return "", downloader.ErrWaitTimeout
			},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name: "exhausted retries map to 502",
			body: `{"source_url": "https://cdn/m1"}`,
			getFile: func(context.Context, string, string, downloader.Priority) (string, error) {
				return "", downloader.ErrRetriesExhausted
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "cancelled maps to 409",
			body: `{"source_url": "https://cdn/m1"}`,
			getFile: func(context.Context, string, string, downloader.Priority) (string, error) {
				return "", downloader.ErrCancelled
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubService{getFile: tt.getFile})
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/files/m1", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantPath != "" {
				var body FileResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "m1", body.ID)
				assert.Equal(t, tt.wantPath, body.Path)
			}
		})
	}
}

func TestHandleFileInfo(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	svc := &stubService{
		entries: map[string]storage.Entry{
			"cached": {ID: "cached", LocalPath: "/cache/a.audio", SizeBytes: 42, CreatedAt: now, LastAccessedAt: now},
		},
		statuses: map[string]downloader.Status{
			"inflight": downloader.StatusDownloading,
		},
	}

	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/files/cached")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body FileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "/cache/a.audio", body.Path)
	assert.Equal(t, int64(42), body.SizeBytes)

	resp, err = http.Get(srv.URL + "/files/inflight")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var pending PendingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	assert.Equal(t, "downloading", pending.Status)

	resp, err = http.Get(srv.URL + "/files/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCancel(t *testing.T) {
	svc := &stubService{}

	srv := newTestServer(svc)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/files/m1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"m1"}, svc.cancelled)
}

func TestHandleStats(t *testing.T) {
	svc := &stubService{
		stats: cache.Stats{Entries: 3, TotalBytes: 1024, OldestAccess: time.Hour, NewestAccess: time.Minute},
		depth: 2,
	}

	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cache/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Entries)
	assert.Equal(t, int64(1024), body.TotalBytes)
	assert.Equal(t, 2, body.QueueDepth)
	assert.Equal(t, "1h0m0s", body.OldestAccessAge)
	assert.Equal(t, "1m0s", body.NewestAccessAge)
}

func TestHandleClear(t *testing.T) {
	svc := &stubService{}

	srv := newTestServer(svc)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/cache", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, svc.cleared)
}

func TestBasicAuth(t *testing.T) {
	svc := &stubService{}

	srv := httptest.NewServer(NewCacheHandler("admin", "secret", svc, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cache/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/cache/stats", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
