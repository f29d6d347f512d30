package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pricesync/internal/config"
	"pricesync/internal/domain"
	"pricesync/internal/engine"
	"pricesync/internal/monitoring"
)

type stubStore struct{ rows []domain.LedgerEntry }

func (s stubStore) ReadRows(ctx context.Context) ([]domain.LedgerEntry, error) { return s.rows, nil }
func (s stubStore) WriteRows(ctx context.Context, rows []domain.LedgerEntry) error {
	return nil
}

type idleCrawler struct{ block chan struct{} }

func (c *idleCrawler) Crawl(ctx context.Context, skus []domain.SKU) *domain.CrawlResult {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
		}
	}
	return domain.NewCrawlResult()
}

func testServer(t *testing.T, store stubStore, crawler engine.PriceCrawler) *Server {
	t.Helper()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	eng := engine.New(store, crawler, nil, metrics, zap.NewNop(), engine.Options{})
	s := &Server{
		config: &config.Config{MarkupPercentage: 10, TaxRate: 0.15, ServerPort: "0"},
		engine: eng,
		logger: zap.NewNop(),
	}
	s.router = s.setupRouter()
	return s
}

func TestReconcileRejectsInvalidBody(t *testing.T) {
	s := testServer(t, stubStore{}, &idleCrawler{})
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileRejectsNegativePolicy(t *testing.T) {
	s := testServer(t, stubStore{}, &idleCrawler{})
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile",
		strings.NewReader(`{"markup_percentage": -5}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileAcceptsEmptyBody(t *testing.T) {
	s := testServer(t, stubStore{}, &idleCrawler{})
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestReconcileReturnsRunID(t *testing.T) {
	s := testServer(t, stubStore{}, &idleCrawler{})
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["run_id"], "clients poll run status by this ID")
}

func TestReconcileConflictsWhileRunning(t *testing.T) {
	blocked := &idleCrawler{block: make(chan struct{})}
	store := stubStore{rows: []domain.LedgerEntry{{Row: 1, SKU: "A0001"}}}
	s := testServer(t, store, blocked)

	// First request starts a run that parks inside the crawler.
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, s.engine.Running, time.Second, time.Millisecond)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(blocked.block)
	require.Eventually(t, func() bool { return !s.engine.Running() }, time.Second, time.Millisecond)
}

func TestCancelStopsRunningReconciliation(t *testing.T) {
	blocked := &idleCrawler{block: make(chan struct{})}
	store := stubStore{rows: []domain.LedgerEntry{{Row: 1, SKU: "A0001"}}}
	s := testServer(t, store, blocked)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, s.engine.Running, time.Second, time.Millisecond)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/reconcile", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return !s.engine.Running() }, time.Second, time.Millisecond)
}

func TestCancelWithoutRun(t *testing.T) {
	s := testServer(t, stubStore{}, &idleCrawler{})
	req := httptest.NewRequest(http.MethodDelete, "/api/reconcile", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
