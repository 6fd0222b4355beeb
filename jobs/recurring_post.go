package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/recurring"
)

// RecurringRunner posts due recurring templates.
type RecurringRunner interface {
	RunDue(ctx context.Context, on time.Time) (recurring.Run, error)
}

// RecurringPostJob drives the recurring template scheduler from Asynq.
type RecurringPostJob struct {
	Runner  RecurringRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRecurringPostJob initialises the recurring posting handler.
func NewRecurringPostJob(runner RecurringRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringPostJob {
	return &RecurringPostJob{
		Runner:  runner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for testing.
func (j *RecurringPostJob) WithClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

// Handle executes the recurring run.
func (j *RecurringPostJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("recurring post: handler not configured")
	}
	var payload RecurringPostPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	on, err := parseDay(payload.On, j.now())
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRecurringPost)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.log().With(slog.String("on", on.Format(time.DateOnly)))
	run, err := j.Runner.RunDue(ctx, on)
	if err != nil {
		logger.Error("recurring run failed", slog.Any("error", err))
		return err
	}
	if len(run.Failures) > 0 {
		logger.Warn("recurring run finished with failures",
			slog.String("run_id", run.ID.String()),
			slog.Int("failed", len(run.Failures)))
	}
	return nil
}

func (j *RecurringPostJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecurringPostJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecurringPost))
	}
	return slog.Default().With(slog.String("job", TaskRecurringPost))
}

func (j *RecurringPostJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
