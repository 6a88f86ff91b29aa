package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_StreamsBodyToDest(t *testing.T) {
	payload := []byte("short audio payload")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	fetcher := NewHTTPFetcher(server.Client(), fs)

	var lastReceived, lastTotal int64

	err := fetcher.Fetch(context.Background(), server.URL, "/tmp/m1.part", func(received, total int64) {
		lastReceived, lastTotal = received, total
	})
	require.NoError(t, err)

	got, err := afero.ReadFile(fs, "/tmp/m1.part")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Equal(t, int64(len(payload)), lastReceived)
	assert.Equal(t, int64(len(payload)), lastTotal)
}

func TestHTTPFetcher_ServerErrorIsTransferError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.Client(), afero.NewMemMapFs())

	err := fetcher.Fetch(context.Background(), server.URL, "/tmp/m1.part", nil)
	require.Error(t, err)

	var terr *TransferError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusInternalServerError, terr.StatusCode)
	assert.Equal(t, server.URL, terr.URL)
}

func TestHTTPFetcher_CancelledContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.Client(), afero.NewMemMapFs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fetcher.Fetch(ctx, server.URL, "/tmp/m1.part", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTransferError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *TransferError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &TransferError{URL: "https://x/a.audio", StatusCode: 503},
			want: "transfer failed for https://x/a.audio (HTTP 503)",
		},
		{
			name: "without HTTP status code",
			err:  &TransferError{URL: "https://x/a.audio", Err: errors.New("connection reset")},
			want: "transfer failed for https://x/a.audio: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestTransferError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransferError{URL: "https://x/a.audio", Err: cause}

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}
