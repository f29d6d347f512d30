package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pricesync/internal/domain"
)

// PostgresStore keeps the ledger in a single ledger_rows table keyed by
// row_num, mirroring the 7-column row schema: SKU, Title, Current Price,
// New Price, Price Difference, Last-Checked, Status.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// EnsureSchema creates the ledger table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS ledger_rows (
			row_num       INT PRIMARY KEY,
			sku           TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			current_price NUMERIC(12,2) NOT NULL,
			new_price     NUMERIC(12,2),
			price_diff    NUMERIC(12,2),
			last_checked  TIMESTAMPTZ,
			status        TEXT NOT NULL DEFAULT 'Unchecked'
		)`)
	if err != nil {
		return wrapPgError("ensure ledger schema", err)
	}
	return nil
}

func (s *PostgresStore) ReadRows(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT row_num, sku, title, current_price, new_price, price_diff, last_checked, status
		   FROM ledger_rows ORDER BY row_num`)
	if err != nil {
		return nil, wrapPgError("read ledger rows", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e           domain.LedgerEntry
			sku, status string
			current     decimal.Decimal
			newPrice    decimal.NullDecimal
			diff        decimal.NullDecimal
			lastChecked sql.NullTime
		)
		if err := rows.Scan(&e.Row, &sku, &e.Title, &current, &newPrice, &diff, &lastChecked, &status); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.SKU = domain.SKU(sku)
		e.RecordedPrice = current
		e.Status = domain.Status(status)
		if newPrice.Valid {
			e.NewPrice = newPrice.Decimal
		}
		if diff.Valid {
			e.PriceDiff = diff.Decimal
		}
		if lastChecked.Valid {
			e.LastChecked = lastChecked.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("read ledger rows", err)
	}
	return entries, nil
}

// WriteRows upserts each row in full within one transaction, so a batch
// either lands completely or not at all.
func (s *PostgresStore) WriteRows(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return wrapPgError("begin ledger write", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO ledger_rows (row_num, sku, title, current_price, new_price, price_diff, last_checked, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (row_num) DO UPDATE SET
			   sku = EXCLUDED.sku, title = EXCLUDED.title,
			   current_price = EXCLUDED.current_price, new_price = EXCLUDED.new_price,
			   price_diff = EXCLUDED.price_diff, last_checked = EXCLUDED.last_checked,
			   status = EXCLUDED.status`,
			e.Row, string(e.SKU), e.Title, e.RecordedPrice, e.NewPrice,
			e.PriceDiff, e.LastChecked.UTC(), string(e.Status),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapPgError("write ledger rows", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgError("commit ledger write", err)
	}
	return nil
}

// wrapPgError maps SQLSTATE class 53 (insufficient resources: connection
// limits, out of memory, disk full) onto ErrRateLimited so callers can
// back off instead of failing the batch outright.
func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "53") {
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, pgErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
