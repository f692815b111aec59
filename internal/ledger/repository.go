package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger entries and allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore exposes the write operations available inside a product transaction.
type TxStore interface {
	ListOpenBatches(ctx context.Context, productID int64) ([]Batch, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	InsertAllocations(ctx context.Context, entryID int64, plan []deduction) error
}

type txStore struct {
	tx pgx.Tx
}

// WithProductTx runs fn inside a transaction holding the per-product writer
// lock. Read committed isolation: the batch scan must observe writes committed
// before the lock was granted, so the snapshot has to postdate the lock.
func (r *Repository) WithProductTx(ctx context.Context, productID int64, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, productID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InsertDelivery appends a DELIVERY entry outside of an allocation cycle.
func (r *Repository) InsertDelivery(ctx context.Context, entry Entry) (Entry, error) {
	if r == nil {
		return Entry{}, errors.New("ledger repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO ledger_entries (product_id, entry_date, amount, kind, ref, created_at)
VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id, created_at`,
		entry.ProductID, entry.EntryDate, entry.Amount, string(entry.Kind), nullStr(entry.Ref)).Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

// SumAmount folds all entry amounts of one product into its current balance.
func (r *Repository) SumAmount(ctx context.Context, productID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE product_id = $1`, productID).Scan(&total)
	return total, err
}

// StockTotals folds entry amounts per product together with the latest entry date.
func (r *Repository) StockTotals(ctx context.Context) ([]StockTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, SUM(amount), MAX(entry_date)
FROM ledger_entries
GROUP BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []StockTotal
	for rows.Next() {
		var t StockTotal
		if err := rows.Scan(&t.ProductID, &t.Total, &t.LastMovement); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ListEntries returns the full movement history of one product in ledger order.
func (r *Repository) ListEntries(ctx context.Context, productID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, entry_date, amount, kind, COALESCE(ref, ''), created_at
FROM ledger_entries
WHERE product_id = $1
ORDER BY entry_date ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.EntryDate, &e.Amount, &e.Kind, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListOpenBatches loads DELIVERY entries with positive remaining quantity in
// allocation order, locking them against concurrent allocators. Remaining is
// derived from recorded allocations; the delivery rows themselves stay intact.
func (s *txStore) ListOpenBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT e.id, e.entry_date, e.amount, e.amount - COALESCE(c.consumed, 0) AS remaining
FROM ledger_entries e
LEFT JOIN (
    SELECT batch_id, SUM(qty) AS consumed FROM ledger_allocations GROUP BY batch_id
) c ON c.batch_id = e.id
WHERE e.product_id = $1 AND e.kind = 'DELIVERY' AND e.amount - COALESCE(c.consumed, 0) > 0
ORDER BY e.entry_date ASC, e.id ASC
FOR UPDATE OF e`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.EntryID, &b.EntryDate, &b.Amount, &b.Remaining); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *txStore) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO ledger_entries (product_id, entry_date, amount, kind, ref, created_at)
VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		entry.ProductID, entry.EntryDate, entry.Amount, string(entry.Kind), nullStr(entry.Ref)).Scan(&id)
	return id, err
}

func (s *txStore) InsertAllocations(ctx context.Context, entryID int64, plan []deduction) error {
	for _, d := range plan {
		if _, err := s.tx.Exec(ctx, `INSERT INTO ledger_allocations (entry_id, batch_id, qty)
VALUES ($1, $2, $3)`, entryID, d.BatchID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}
