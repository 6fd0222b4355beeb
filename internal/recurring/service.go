package recurring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// maxCatchUp bounds the missed runs posted for one template in a single pass.
const maxCatchUp = 366

// RepositoryPort is the store the service runs against.
type RepositoryPort interface {
	DueTemplates(ctx context.Context, on time.Time) ([]Template, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	RecordRun(ctx context.Context, run Run) error
}

// Failure records a template that could not be posted.
type Failure struct {
	TemplateID int64
	RunDate    time.Time
	Err        error
}

func (f Failure) Error() string {
	return f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Run summarises one pass over the due templates.
type Run struct {
	ID         uuid.UUID
	On         time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Posted     int
	Skipped    int
	Failures   []Failure
}

// Service posts due recurring templates.
type Service struct {
	repo      RepositoryPort
	validator ledger.Validator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService constructs the recurring service for a base currency.
func NewService(repo RepositoryPort, baseCurrency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		validator: ledger.NewValidator(baseCurrency),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RunDue posts every run of every due template up to and including on. Each
// run is validated and committed on its own; a failing template is logged,
// reported and left at its current schedule.
func (s *Service) RunDue(ctx context.Context, on time.Time) (Run, error) {
	run := Run{ID: s.newID(), On: dateOnly(on), StartedAt: s.now()}
	templates, err := s.repo.DueTemplates(ctx, run.On)
	if err != nil {
		return run, err
	}
	logger := s.logger.With(slog.String("run_id", run.ID.String()))
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		posted, skipped, err := s.runTemplate(ctx, t, run.On)
		run.Posted += posted
		run.Skipped += skipped
		if err != nil {
			var failure Failure
			if !errors.As(err, &failure) {
				failure = Failure{TemplateID: t.ID, RunDate: t.NextRun, Err: err}
			}
			run.Failures = append(run.Failures, failure)
			logger.Warn("recurring template failed",
				slog.Int64("template_id", t.ID),
				slog.String("kind", kindOf(t)),
				slog.Time("run_date", failure.RunDate),
				slog.Any("error", failure.Err))
		}
	}
	run.FinishedAt = s.now()
	if err := s.repo.RecordRun(ctx, run); err != nil {
		logger.Error("record recurring run", slog.Any("error", err))
	}
	logger.Info("recurring run finished",
		slog.Int("posted", run.Posted),
		slog.Int("skipped", run.Skipped),
		slog.Int("failed", len(run.Failures)))
	return run, nil
}

func (s *Service) runTemplate(ctx context.Context, t Template, on time.Time) (posted, skipped int, err error) {
	next := dateOnly(t.NextRun)
	for i := 0; i < maxCatchUp && t.Due(on); i++ {
		input, err := t.BuildPosting(next)
		if err != nil {
			return posted, skipped, Failure{TemplateID: t.ID, RunDate: next, Err: err}
		}
		posting, err := s.validator.ValidatePosting(input)
		if err != nil {
			return posted, skipped, Failure{TemplateID: t.ID, RunDate: next, Err: err}
		}
		following, err := t.Frequency.Next(next)
		if err != nil {
			return posted, skipped, Failure{TemplateID: t.ID, RunDate: next, Err: err}
		}
		active := !t.ended(following)
		inserted := false
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, err := tx.Ledger().GetPosting(ctx, posting.Key())
			switch {
			case err == nil:
			case errors.Is(err, ledger.ErrPostingNotFound):
				if _, err := tx.Ledger().InsertPosting(ctx, posting); err != nil {
					return err
				}
				inserted = true
			default:
				return err
			}
			return tx.AdvanceTemplate(ctx, t.ID, following, active)
		})
		if err != nil {
			return posted, skipped, Failure{TemplateID: t.ID, RunDate: next, Err: err}
		}
		if inserted {
			posted++
		} else {
			skipped++
		}
		t.NextRun, t.Active = following, active
		next = following
	}
	return posted, skipped, nil
}

func kindOf(t Template) string {
	if t.Data == nil {
		return ""
	}
	return string(t.Data.Kind())
}
