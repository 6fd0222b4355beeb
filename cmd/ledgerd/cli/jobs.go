package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits ledger jobs.
type Enqueuer interface {
	EnqueueLedgerIntegrity(ctx context.Context, payload jobs.LedgerIntegrityPayload) (*asynq.TaskInfo, error)
	EnqueueRecurringPost(ctx context.Context, payload jobs.RecurringPostPayload) (*asynq.TaskInfo, error)
	EnqueueIdempotencyPrune(ctx context.Context, payload jobs.IdempotencyPrunePayload) (*asynq.TaskInfo, error)
}

// TriggerOptions narrows a manually triggered job.
type TriggerOptions struct {
	CompanyID int64
	From      string
	To        string
	On        string
	Retention time.Duration
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client Enqueuer
}

// NewJobsCLI wraps client.
func NewJobsCLI(client Enqueuer) *JobsCLI {
	return &JobsCLI{client: client}
}

// Trigger enqueues a supported job by task type.
func (c *JobsCLI) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskLedgerIntegrity:
		return c.client.EnqueueLedgerIntegrity(ctx, jobs.LedgerIntegrityPayload{
			CompanyID: opts.CompanyID,
			From:      opts.From,
			To:        opts.To,
		})
	case jobs.TaskRecurringPost:
		return c.client.EnqueueRecurringPost(ctx, jobs.RecurringPostPayload{On: opts.On})
	case jobs.TaskIdempotencyPrune:
		return c.client.EnqueueIdempotencyPrune(ctx, jobs.IdempotencyPrunePayload{RetentionHours: int(opts.Retention.Hours())})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}
