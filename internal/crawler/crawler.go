package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricesync/internal/domain"
	"pricesync/internal/extract"
	"pricesync/internal/fetch"
	"pricesync/internal/monitoring"
	"pricesync/internal/resolve"
)

// Options bounds crawl concurrency and pacing.
type Options struct {
	BatchSize     int
	Workers       int
	MinBatchDelay time.Duration
	MaxBatchDelay time.Duration
	MaxPrice      decimal.Decimal
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.MinBatchDelay <= 0 {
		o.MinBatchDelay = 2 * time.Second
	}
	if o.MaxBatchDelay < o.MinBatchDelay {
		o.MaxBatchDelay = o.MinBatchDelay + 2*time.Second
	}
	if o.MaxPrice.Sign() <= 0 {
		o.MaxPrice = extract.DefaultMaxPrice
	}
}

// Crawler walks a SKU list in fixed-size batches, each batch processed by
// a bounded worker pool running resolve -> fetch -> extract per SKU.
// Results funnel into a single mutex-guarded accumulator.
type Crawler struct {
	fetcher  *fetch.Fetcher
	resolver *resolve.Resolver
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	opts     Options
}

func New(f *fetch.Fetcher, r *resolve.Resolver, m *monitoring.Metrics, l *zap.Logger, opts Options) *Crawler {
	opts.withDefaults()
	return &Crawler{
		fetcher:  f,
		resolver: r,
		metrics:  m,
		logger:   l,
		opts:     opts,
	}
}

// collector guards the shared CrawlResult. Workers never touch the maps
// directly.
type collector struct {
	mu     sync.Mutex
	result *domain.CrawlResult
}

func (c *collector) success(rec domain.PriceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Prices[rec.SKU] = rec
}

func (c *collector) failure(sku domain.SKU, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Failures[sku] = reason
}

// Crawl processes the SKU set and returns a result covering every SKU
// attempted before ctx was cancelled. Per-SKU failures are recorded, not
// propagated; cancellation returns the partial accumulation.
func (c *Crawler) Crawl(ctx context.Context, skus []domain.SKU) *domain.CrawlResult {
	coll := &collector{result: domain.NewCrawlResult()}
	batches := partition(skus, c.opts.BatchSize)

	for i, batch := range batches {
		if ctx.Err() != nil {
			c.logger.Info("crawl cancelled at batch boundary",
				zap.Int("batch", i), zap.Int("collected", coll.result.Len()))
			return coll.result
		}

		c.runBatch(ctx, batch, coll)

		if i < len(batches)-1 {
			if !c.sleepBetweenBatches(ctx) {
				return coll.result
			}
		}
	}
	return coll.result
}

func (c *Crawler) runBatch(ctx context.Context, batch []domain.SKU, coll *collector) {
	jobs := make(chan domain.SKU)
	var wg sync.WaitGroup

	for w := 0; w < c.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sku := range jobs {
				// Drain without processing once cancelled so the feeder
				// never blocks on a dead pool.
				if ctx.Err() != nil {
					continue
				}
				c.processSKU(ctx, sku, coll)
			}
		}()
	}

	for _, sku := range batch {
		jobs <- sku
	}
	close(jobs)
	wg.Wait()
}

func (c *Crawler) processSKU(ctx context.Context, sku domain.SKU, coll *collector) {
	start := time.Now()
	rec, reason := c.lookup(ctx, sku)
	c.metrics.ObserveSKUDuration(time.Since(start))

	if ctx.Err() != nil && rec == nil {
		// Cancelled mid-lookup: leave the SKU unrecorded rather than
		// marking it failed.
		return
	}
	if rec != nil {
		c.metrics.IncSKUProcessed("success")
		coll.success(*rec)
		c.logger.Debug("price retrieved",
			zap.String("sku", string(sku)),
			zap.String("price", rec.Price.StringFixed(2)),
			zap.String("url", rec.SourceURL))
		return
	}
	c.metrics.IncSKUProcessed("failed")
	coll.failure(sku, reason)
	c.logger.Info("sku failed", zap.String("sku", string(sku)), zap.String("reason", reason))
}

// lookup tries each candidate URL in resolver priority order. A search
// results page that contains no price gets one refinement hop to a
// product link mentioning the SKU.
func (c *Crawler) lookup(ctx context.Context, sku domain.SKU) (*domain.PriceRecord, string) {
	var reasons []string

	for _, cand := range c.resolver.Candidates(sku) {
		doc, err := c.fetchDocument(ctx, cand.URL)
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}

		if rec := c.extractRecord(doc, sku, cand.URL); rec != nil {
			return rec, ""
		}

		if cand.IsSearch {
			refined, ok := c.resolver.RefineFromSearch(doc, sku)
			if ok && refined != cand.URL {
				doc, err = c.fetchDocument(ctx, refined)
				if err != nil {
					reasons = append(reasons, err.Error())
					continue
				}
				if rec := c.extractRecord(doc, sku, refined); rec != nil {
					return rec, ""
				}
			}
		}
		reasons = append(reasons, fmt.Sprintf("no price found at %s", cand.URL))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no candidate URLs")
	}
	return nil, strings.Join(reasons, "; ")
}

func (c *Crawler) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	body, _, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		c.metrics.IncCrawlError("fetch")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		c.metrics.IncCrawlError("parse")
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (c *Crawler) extractRecord(doc *goquery.Document, sku domain.SKU, url string) *domain.PriceRecord {
	price, strategy, ok := extract.PriceFromDocument(doc, c.opts.MaxPrice)
	if !ok {
		return nil
	}
	c.logger.Debug("extraction strategy hit",
		zap.String("sku", string(sku)), zap.String("strategy", strategy))
	return &domain.PriceRecord{
		SKU:         sku,
		Price:       price,
		SourceURL:   url,
		RetrievedAt: time.Now().UTC(),
	}
}

// sleepBetweenBatches waits a randomized interval, abandoning the wait if
// ctx is cancelled. Returns false on cancellation.
func (c *Crawler) sleepBetweenBatches(ctx context.Context) bool {
	span := c.opts.MaxBatchDelay - c.opts.MinBatchDelay
	delay := c.opts.MinBatchDelay
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func partition(skus []domain.SKU, size int) [][]domain.SKU {
	var batches [][]domain.SKU
	for start := 0; start < len(skus); start += size {
		end := start + size
		if end > len(skus) {
			end = len(skus)
		}
		batches = append(batches, skus[start:end])
	}
	return batches
}
