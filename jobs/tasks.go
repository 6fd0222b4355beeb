package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity re-validates stored postings.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskRecurringPost posts due recurring templates.
	TaskRecurringPost = "recurring:post"
	// TaskIdempotencyPrune drops expired idempotency keys.
	TaskIdempotencyPrune = "idempotency:prune"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload scopes an integrity scan. Zero values scan every
// company over the last LookbackDays (default 1) ending today.
type LedgerIntegrityPayload struct {
	CompanyID    int64  `json:"company_id,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	LookbackDays int    `json:"lookback_days,omitempty"`
}

// RecurringPostPayload selects the run date; empty means today.
type RecurringPostPayload struct {
	On string `json:"on,omitempty"`
}

// IdempotencyPrunePayload sets the key retention in hours; zero keeps 30 days.
type IdempotencyPrunePayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewRecurringPostTask constructs an Asynq task.
func NewRecurringPostTask(payload RecurringPostPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringPost, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewIdempotencyPruneTask constructs an Asynq task.
func NewIdempotencyPruneTask(payload IdempotencyPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPrune, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		y, m, d := fallback.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: invalid date %q: %w", raw, err)
	}
	return t, nil
}
