package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SKU is an opaque product identifier. Compare SKUs by their normalized
// form only; raw catalog exports mix case, slashes and embedded spaces.
type SKU string

// NormalizeSKU uppercases the identifier and collapses slashes and spaces
// into single dashes. The result is stable under repeated normalization.
func NormalizeSKU(raw string) SKU {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return SKU(s)
}

// Status tracks the reconciliation outcome for a ledger row.
type Status string

const (
	StatusUnchecked    Status = "Unchecked"
	StatusUpToDate     Status = "UpToDate"
	StatusPriceChanged Status = "PriceChanged"
	StatusFailed       Status = "Failed"
)

// PriceRecord is the outcome of one successful fetch+extract for a SKU.
// Records live for a single reconciliation run and are discarded after
// the ledger write.
type PriceRecord struct {
	SKU         SKU
	Price       decimal.Decimal
	SourceURL   string
	RetrievedAt time.Time
}

// CrawlResult accumulates per-SKU outcomes for one crawl. A requested SKU
// appears in exactly one of Prices or Failures, never both and never twice.
type CrawlResult struct {
	Prices   map[SKU]PriceRecord
	Failures map[SKU]string
}

func NewCrawlResult() *CrawlResult {
	return &CrawlResult{
		Prices:   make(map[SKU]PriceRecord),
		Failures: make(map[SKU]string),
	}
}

// Len reports how many SKUs have an outcome recorded.
func (r *CrawlResult) Len() int {
	return len(r.Prices) + len(r.Failures)
}

// MarkupPolicy derives a sell price from a crawled base price.
type MarkupPolicy struct {
	MarkupPercentage decimal.Decimal
	TaxRate          decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// SellPrice applies markup then tax and rounds half-up to two decimals:
// base * (1 + markup/100) * (1 + tax).
func (p MarkupPolicy) SellPrice(base decimal.Decimal) decimal.Decimal {
	markup := decimal.NewFromInt(1).Add(p.MarkupPercentage.Div(oneHundred))
	tax := decimal.NewFromInt(1).Add(p.TaxRate)
	return base.Mul(markup).Mul(tax).Round(2)
}

// LedgerEntry mirrors one ledger row. Row is the backing store's row
// position; writes replace the whole row keyed by it.
type LedgerEntry struct {
	Row           int
	SKU           SKU
	Title         string
	RecordedPrice decimal.Decimal
	NewPrice      decimal.Decimal
	PriceDiff     decimal.Decimal
	LastChecked   time.Time
	Status        Status
}

// diffTolerance is the largest recorded-vs-crawled gap still considered
// the same price.
var diffTolerance = decimal.NewFromFloat(0.01)

// ClassifyDiff compares a recorded price against a freshly crawled one and
// returns the signed difference (recorded - new) with its status.
func ClassifyDiff(recorded, crawled decimal.Decimal) (decimal.Decimal, Status) {
	diff := recorded.Sub(crawled)
	if diff.Abs().Cmp(diffTolerance) <= 0 {
		return diff, StatusUpToDate
	}
	return diff, StatusPriceChanged
}
