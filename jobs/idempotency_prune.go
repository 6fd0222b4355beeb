package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const defaultKeyRetention = 30 * 24 * time.Hour

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPruneJob bounds the idempotency_keys table.
type IdempotencyPruneJob struct {
	Pruner  KeyPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyPruneJob initialises the prune handler.
func NewIdempotencyPruneJob(pruner KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPruneJob {
	return &IdempotencyPruneJob{Pruner: pruner, Logger: logger, Metrics: metrics}
}

// Handle removes expired keys.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pruner == nil {
		return errors.New("idempotency prune: handler not configured")
	}
	var payload IdempotencyPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := defaultKeyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	removed, err := j.Pruner.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("idempotency prune failed", slog.Any("error", err))
		return err
	}
	logger.Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
