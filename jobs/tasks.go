// Package jobs hosts the Asynq task definitions and worker wiring.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockSummaryWarmup pre-populates the stock summary cache.
	TaskStockSummaryWarmup = "stock:summary_warmup"
	// TaskLedgerIntegrityScan verifies ledger invariants per product.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
)

// ScheduledPayload carries scheduling metadata shared by the cron tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockSummaryWarmupTask constructs the warmup task.
func NewStockSummaryWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockSummaryWarmup, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityScanTask constructs the integrity scan task.
func NewLedgerIntegrityScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}
