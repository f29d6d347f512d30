// Package ledger defines the contract against the durable price ledger.
// The reconciliation engine only depends on the Store interface; the
// Postgres implementation lives alongside it.
package ledger

import (
	"context"
	"errors"

	"pricesync/internal/domain"
)

// ErrRateLimited distinguishes backend throttling from generic failures
// so the writer can apply its own backoff instead of giving up.
var ErrRateLimited = errors.New("ledger: rate limited")

// Store is the durable SKU -> recorded-price ledger. Rows are contiguous
// and ordered by row number; WriteRows replaces each addressed row in
// full, keyed by its row number, never patching columns in place.
type Store interface {
	// ReadRows returns every ledger row in ascending row order. A ledger
	// with zero rows is a valid, empty result.
	ReadRows(ctx context.Context) ([]domain.LedgerEntry, error)

	// WriteRows replaces the given rows atomically. Implementations must
	// surface backend throttling as an error matching ErrRateLimited.
	WriteRows(ctx context.Context, rows []domain.LedgerEntry) error
}
