package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricesync/internal/domain"
	"pricesync/internal/ledger"
	"pricesync/internal/monitoring"
	"pricesync/internal/storage"
)

// State names one step of the per-run state machine.
type State string

const (
	StateIdle           State = "idle"
	StateReadingLedger  State = "reading_ledger"
	StateCrawling       State = "crawling"
	StateDiffing        State = "diffing"
	StateWritingBatches State = "writing_batches"
	StateDone           State = "done"
	StateCancelled      State = "cancelled"
)

// ErrRunInProgress rejects a run while another holds the ledger.
var ErrRunInProgress = errors.New("engine: reconciliation run already in progress")

// maxErrors bounds the human-readable error list in a summary.
const maxErrors = 25

// PriceCrawler is the slice of the crawler the engine needs.
type PriceCrawler interface {
	Crawl(ctx context.Context, skus []domain.SKU) *domain.CrawlResult
}

// ProgressSink persists run progress and the recently-checked SKU set.
// A nil sink disables both, which tests rely on.
type ProgressSink interface {
	SaveProgress(ctx context.Context, p storage.RunProgress) error
	MarkChecked(ctx context.Context, sku string, ttl time.Duration) error
	IsRecentlyChecked(ctx context.Context, sku string) (bool, error)
}

// Options tunes ledger writing and crawl skipping.
type Options struct {
	WriteBatchSize int
	MaxRetries     uint64
	BackoffBase    time.Duration
	// StrictResolve counts crawl misses as failures instead of leaving
	// the rows untouched.
	StrictResolve bool
	// RecheckTTL is how long a priced SKU is skipped on subsequent
	// unforced runs. Zero disables skipping.
	RecheckTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.WriteBatchSize <= 0 {
		o.WriteBatchSize = 10
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
}

// Summary is the result of one reconciliation run. A run always produces
// a summary unless the ledger could not even be read.
type Summary struct {
	RunID        string
	State        State
	Updated      int
	Failed       int
	PriceChanged int
	Cancelled    bool
	Errors       []string
	// SellPrices carries the marked-up sell price computed for each
	// successfully crawled SKU.
	SellPrices map[domain.SKU]decimal.Decimal
}

func (s *Summary) addError(msg string) {
	if len(s.Errors) < maxErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// Engine runs the reconciliation cycle: read ledger, crawl, diff, write
// back in batches. One run at a time; overlapping runs against the same
// ledger would race on row writes.
type Engine struct {
	store    ledger.Store
	crawler  PriceCrawler
	progress ProgressSink
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	opts     Options
	running  atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func New(store ledger.Store, crawler PriceCrawler, progress ProgressSink, m *monitoring.Metrics, l *zap.Logger, opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		store:    store,
		crawler:  crawler,
		progress: progress,
		metrics:  m,
		logger:   l,
		opts:     opts,
	}
}

// Running reports whether a run currently holds the ledger.
func (e *Engine) Running() bool { return e.running.Load() }

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:      runID,
		State:      StateIdle,
		SellPrices: make(map[domain.SKU]decimal.Decimal),
	}
}

// RunReconciliation executes one full cycle under the given markup policy.
// force bypasses the recently-checked SKU skip. Cancellation via ctx is
// not an error: the summary comes back flagged Cancelled with whatever
// completed. Only a ledger read failure aborts the run with an error.
func (e *Engine) RunReconciliation(ctx context.Context, policy domain.MarkupPolicy, force bool) (*Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)
	return e.run(ctx, newSummary(uuid.NewString()), policy, force)
}

// StartReconciliation reserves the run slot, assigns the run ID and
// executes the cycle on a background goroutine. The ID comes back before
// the run detaches so callers can poll progress for it straight away; an
// active run is reported as ErrRunInProgress. The detached run is stopped
// with Cancel.
func (e *Engine) StartReconciliation(policy domain.MarkupPolicy, force bool) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()

	summary := newSummary(uuid.NewString())
	// Persist the idle record now so a status lookup right after the
	// response never sees the run as missing.
	e.saveProgress(summary)

	go func() {
		defer e.running.Store(false)
		defer cancel()
		if _, err := e.run(ctx, summary, policy, force); err != nil {
			e.logger.Error("reconciliation run failed",
				zap.String("run_id", summary.RunID), zap.Error(err))
		}
	}()
	return summary.RunID, nil
}

// Cancel aborts the detached run, if any, at its next checkpoint. It
// reports whether there was a run to cancel.
func (e *Engine) Cancel() bool {
	if !e.running.Load() {
		return false
	}
	e.cancelMu.Lock()
	cancel := e.cancel
	e.cancelMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (e *Engine) run(ctx context.Context, summary *Summary, policy domain.MarkupPolicy, force bool) (*Summary, error) {
	start := time.Now()
	e.logger.Info("reconciliation run starting",
		zap.String("run_id", summary.RunID), zap.Bool("force", force))

	defer func() {
		e.metrics.ObserveRunDuration(time.Since(start))
		e.saveProgress(summary)
		e.logger.Info("reconciliation run finished",
			zap.String("run_id", summary.RunID),
			zap.String("state", string(summary.State)),
			zap.Int("updated", summary.Updated),
			zap.Int("failed", summary.Failed),
			zap.Bool("cancelled", summary.Cancelled))
	}()

	// ReadingLedger. A failure here is fatal: nothing to reconcile.
	if !e.transition(ctx, summary, StateReadingLedger) {
		return summary, nil
	}
	entries, err := e.store.ReadRows(ctx)
	if err != nil {
		summary.addError(err.Error())
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(entries) == 0 {
		e.logger.Info("ledger is empty, nothing to reconcile", zap.String("run_id", summary.RunID))
		summary.State = StateDone
		return summary, nil
	}

	// Crawling.
	if !e.transition(ctx, summary, StateCrawling) {
		return summary, nil
	}
	skus := e.skusToCrawl(ctx, entries, force)
	result := e.crawler.Crawl(ctx, skus)

	// Diffing. Like every stage boundary this checks cancellation first,
	// so a run cancelled mid-crawl stops here with its partial summary.
	if !e.transition(ctx, summary, StateDiffing) {
		return summary, nil
	}
	updates := e.diff(entries, result, policy, summary)

	// WritingBatches.
	if !e.transition(ctx, summary, StateWritingBatches) {
		return summary, nil
	}
	e.writeBatches(ctx, updates, summary)

	if ctx.Err() != nil {
		summary.Cancelled = true
		summary.State = StateCancelled
		return summary, nil
	}
	summary.State = StateDone
	return summary, nil
}

// transition advances the state machine, persisting progress. It returns
// false when ctx is already cancelled, flipping the run to Cancelled.
func (e *Engine) transition(ctx context.Context, summary *Summary, next State) bool {
	if ctx.Err() != nil {
		summary.Cancelled = true
		summary.State = StateCancelled
		return false
	}
	summary.State = next
	e.logger.Debug("run state change",
		zap.String("run_id", summary.RunID), zap.String("state", string(next)))
	e.saveProgress(summary)
	return true
}

// skusToCrawl collects the normalized SKUs, skipping ones priced within
// the recheck window unless the run is forced.
func (e *Engine) skusToCrawl(ctx context.Context, entries []domain.LedgerEntry, force bool) []domain.SKU {
	skus := make([]domain.SKU, 0, len(entries))
	for _, entry := range entries {
		sku := domain.NormalizeSKU(string(entry.SKU))
		if !force && e.progress != nil && e.opts.RecheckTTL > 0 {
			checked, err := e.progress.IsRecentlyChecked(ctx, string(sku))
			if err != nil {
				e.logger.Warn("recheck lookup failed, crawling anyway",
					zap.String("sku", string(sku)), zap.Error(err))
			} else if checked {
				e.logger.Debug("skipping recently checked sku", zap.String("sku", string(sku)))
				continue
			}
		}
		skus = append(skus, sku)
	}
	return skus
}

// diff builds the full-row replacements for every SKU the crawl priced,
// in ascending row order. Crawl misses leave their rows untouched unless
// StrictResolve is set.
func (e *Engine) diff(entries []domain.LedgerEntry, result *domain.CrawlResult, policy domain.MarkupPolicy, summary *Summary) []domain.LedgerEntry {
	now := time.Now().UTC()
	var updates []domain.LedgerEntry

	for _, entry := range entries {
		sku := domain.NormalizeSKU(string(entry.SKU))

		rec, ok := result.Prices[sku]
		if !ok {
			if reason, failed := result.Failures[sku]; failed {
				e.logger.Info("sku not priced this run",
					zap.String("sku", string(sku)), zap.String("reason", reason))
				if e.opts.StrictResolve {
					summary.Failed++
					summary.addError(fmt.Sprintf("%s: %s", sku, reason))
				}
			}
			continue
		}

		diff, status := domain.ClassifyDiff(entry.RecordedPrice, rec.Price)
		if status == domain.StatusPriceChanged {
			summary.PriceChanged++
			e.metrics.PriceChanges.Inc()
		}
		summary.SellPrices[sku] = policy.SellPrice(rec.Price)

		updated := entry
		updated.SKU = sku
		updated.NewPrice = rec.Price
		updated.PriceDiff = diff
		updated.LastChecked = now
		updated.Status = status
		updates = append(updates, updated)
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].Row < updates[j].Row })
	return updates
}

// writeBatches writes the updates in ascending row order, one atomic
// batch at a time. Rate-limit errors from the ledger backend get their
// own backoff, distinct from the fetcher's; a batch that still fails is
// counted and reported without aborting the remaining batches.
func (e *Engine) writeBatches(ctx context.Context, updates []domain.LedgerEntry, summary *Summary) {
	for start := 0; start < len(updates); start += e.opts.WriteBatchSize {
		if ctx.Err() != nil {
			summary.Cancelled = true
			summary.State = StateCancelled
			return
		}
		end := start + e.opts.WriteBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		if err := e.writeBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				// Cancelled while writing: the batch was not applied and
				// the remaining ones are not attempted.
				summary.Cancelled = true
				summary.State = StateCancelled
				return
			}
			summary.Failed += len(batch)
			summary.addError(fmt.Sprintf("ledger write failed for rows %d-%d (skus: %s): %v",
				batch[0].Row, batch[len(batch)-1].Row, joinSKUs(batch), err))
			e.logger.Error("ledger batch write failed",
				zap.Int("rows", len(batch)), zap.Error(err))
			continue
		}

		summary.Updated += len(batch)
		e.markChecked(batch)
		e.saveProgress(summary)
	}
}

func (e *Engine) writeBatch(ctx context.Context, batch []domain.LedgerEntry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.BackoffBase

	op := func() error {
		err := e.store.WriteRows(ctx, batch)
		if err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrRateLimited) {
			e.metrics.LedgerRetries.Inc()
			e.logger.Warn("ledger rate limited, backing off", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, e.opts.MaxRetries), ctx))
}

func (e *Engine) markChecked(batch []domain.LedgerEntry) {
	if e.progress == nil || e.opts.RecheckTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, entry := range batch {
		if err := e.progress.MarkChecked(ctx, string(entry.SKU), e.opts.RecheckTTL); err != nil {
			e.logger.Warn("failed to mark sku checked", zap.String("sku", string(entry.SKU)), zap.Error(err))
		}
	}
}

// saveProgress never uses the run ctx: progress for a cancelled run must
// still land in the store.
func (e *Engine) saveProgress(summary *Summary) {
	if e.progress == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := storage.RunProgress{
		RunID:        summary.RunID,
		State:        string(summary.State),
		Updated:      summary.Updated,
		Failed:       summary.Failed,
		PriceChanged: summary.PriceChanged,
		Cancelled:    summary.Cancelled,
		Errors:       summary.Errors,
	}
	if err := e.progress.SaveProgress(ctx, p); err != nil {
		e.logger.Warn("failed to save run progress",
			zap.String("run_id", summary.RunID), zap.Error(err))
	}
}

func joinSKUs(batch []domain.LedgerEntry) string {
	skus := make([]string, len(batch))
	for i, entry := range batch {
		skus[i] = string(entry.SKU)
	}
	return strings.Join(skus, ", ")
}
