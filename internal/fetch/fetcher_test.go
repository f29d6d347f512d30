package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pricesync/internal/agent"
)

func testFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 60_000 // effectively unpaced in tests
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
	}
	return New(opts, agent.NewPool(1), zap.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{})
	body, status, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestFetchSetsUserAgentFromPool(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{})
	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	ua, _ := seen.Load().(string)
	assert.Contains(t, ua, "Mozilla/5.0", "requests must not carry Go's default agent")
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxRetries: 4})
	body, status, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxRetries: 4})
	_, status, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestFetchExhaustedRetriesBecomePermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxRetries: 2})
	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "exhausted retries must report permanent failure")
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestFetchHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := testFetcher(t, Options{MaxRetries: 5})
	_, _, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// 1200 requests/minute = one every 50ms.
	f := testFetcher(t, Options{RequestsPerMinute: 1200})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// First token is free; the next two wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
