package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SKUsProcessed *prometheus.CounterVec
	CrawlErrors   *prometheus.CounterVec
	PriceChanges  prometheus.Counter
	LedgerRetries prometheus.Counter
	SKUDuration   prometheus.Histogram
	RunDuration   prometheus.Histogram
}

// NewMetrics registers the metric set against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// so repeated construction never collides.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SKUsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesync_skus_processed_total",
			Help: "SKUs processed per crawl, by outcome",
		}, []string{"outcome"}),
		CrawlErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesync_crawl_errors_total",
			Help: "Crawl errors by type",
		}, []string{"type"}),
		PriceChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricesync_price_changes_total",
			Help: "Ledger rows whose price moved beyond the tolerance",
		}),
		LedgerRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricesync_ledger_write_retries_total",
			Help: "Ledger batch writes retried after a rate-limit response",
		}),
		SKUDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricesync_sku_duration_seconds",
			Help:    "Wall time spent resolving and fetching one SKU",
			Buckets: prometheus.DefBuckets,
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricesync_run_duration_seconds",
			Help:    "End-to-end reconciliation run duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) IncSKUProcessed(outcome string) {
	m.SKUsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCrawlError(errorType string) {
	m.CrawlErrors.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveSKUDuration(d time.Duration) {
	m.SKUDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRunDuration(d time.Duration) {
	m.RunDuration.Observe(d.Seconds())
}
