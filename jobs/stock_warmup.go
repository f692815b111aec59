package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stockledger/stockledger/internal/ledger"
)

// StockWarmupJob pre-populates the stock summary cache so the first dashboard
// read after an invalidation does not pay the aggregation cost.
type StockWarmupJob struct {
	Aggregator *ledger.Aggregator
	Logger     *slog.Logger
}

// NewStockWarmupJob wires dependencies for the warmup handler.
func NewStockWarmupJob(aggregator *ledger.Aggregator, logger *slog.Logger) *StockWarmupJob {
	return &StockWarmupJob{Aggregator: aggregator, Logger: logger}
}

// Handle processes stock summary warmup tasks.
func (j *StockWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Aggregator == nil {
		return errors.New("stock warmup: handler not configured")
	}
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := j.Aggregator.ListStock(ctx)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("stock warmup failed", slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("stock summary cache warmed", slog.Int("products", len(rows)))
	}
	return nil
}
