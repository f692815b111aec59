package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// IntegrityScanJob re-derives per-product balances and checks the ledger
// invariants: no batch may be allocated beyond its delivered amount, and a
// negative balance must be backed by at least one shortage entry.
type IntegrityScanJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// NewIntegrityScanJob wires dependencies for the integrity handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger) *IntegrityScanJob {
	return &IntegrityScanJob{Pool: pool, Logger: logger}
}

// Handle processes ledger integrity scan tasks.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	overdrawn, err := j.overdrawnBatches(ctx)
	if err != nil {
		return err
	}
	for _, batchID := range overdrawn {
		j.log().Error("batch allocated beyond delivered amount", slog.Int64("batch_id", batchID))
	}

	productIDs, err := j.productIDs(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, productID := range productIDs {
		productID := productID
		g.Go(func() error {
			return j.checkProduct(ctx, productID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.log().Info("ledger integrity scan finished",
		slog.Int("products", len(productIDs)),
		slog.Int("overdrawn_batches", len(overdrawn)))
	return nil
}

// overdrawnBatches lists DELIVERY entries whose allocations exceed the amount.
func (j *IntegrityScanJob) overdrawnBatches(ctx context.Context) ([]int64, error) {
	rows, err := j.Pool.Query(ctx, `SELECT e.id
FROM ledger_entries e
JOIN ledger_allocations a ON a.batch_id = e.id
WHERE e.kind = 'DELIVERY'
GROUP BY e.id, e.amount
HAVING SUM(a.qty) > e.amount`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *IntegrityScanJob) productIDs(ctx context.Context) ([]int64, error) {
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT product_id FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// checkProduct flags balances that went negative without a shortage entry.
func (j *IntegrityScanJob) checkProduct(ctx context.Context, productID int64) error {
	var balance float64
	var shortages int64
	err := j.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0),
COUNT(*) FILTER (WHERE kind = 'SHORTAGE')
FROM ledger_entries WHERE product_id = $1`, productID).Scan(&balance, &shortages)
	if err != nil {
		return err
	}
	if balance < 0 && shortages == 0 {
		j.log().Error("negative balance without shortage entry",
			slog.Int64("product_id", productID),
			slog.Float64("balance", balance))
	}
	return nil
}

func (j *IntegrityScanJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
