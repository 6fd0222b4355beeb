package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

const kindTotalMismatch = "total_mismatch"

// PostingSource is the ledger store the integrity scan reads from.
type PostingSource interface {
	CompanyIDs(ctx context.Context) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
}

// LedgerIntegrityJob re-runs the posting validator over stored vouchers and
// reports any that no longer balance or reconcile.
type LedgerIntegrityJob struct {
	Source       PostingSource
	BaseCurrency string
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// IntegrityReport summarises one scan.
type IntegrityReport struct {
	Companies  int
	Postings   int
	Violations []Violation
}

// Violation is a stored posting that failed re-validation.
type Violation struct {
	Key  ledger.VoucherKey
	Kind string
	Err  error
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(source PostingSource, baseCurrency string, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Source:       source,
		BaseCurrency: baseCurrency,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for testing.
func (j *LedgerIntegrityJob) WithClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

// Handle executes the scan for an Asynq task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans the window described by payload.
func (j *LedgerIntegrityJob) Run(ctx context.Context, payload LedgerIntegrityPayload) (report IntegrityReport, resultErr error) {
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if j.Source == nil {
		return report, errors.New("ledger integrity: source not configured")
	}
	from, to, err := j.window(payload)
	if err != nil {
		return report, err
	}
	logger := j.log().With(slog.Time("from", from), slog.Time("to", to))
	logger.Info("starting ledger integrity scan")

	companies := []int64{payload.CompanyID}
	if payload.CompanyID == 0 {
		if companies, err = j.Source.CompanyIDs(ctx); err != nil {
			logger.Error("list companies failed", slog.Any("error", err))
			return report, err
		}
	}
	for _, companyID := range companies {
		var postings []ledger.Posting
		err := j.Source.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			postings, err = tx.ListPostings(ctx, companyID, from, to)
			return err
		})
		if err != nil {
			logger.Error("list postings failed", slog.Int64("company_id", companyID), slog.Any("error", err))
			return report, err
		}
		report.Companies++
		report.Postings += len(postings)
		for _, p := range postings {
			v, ok := j.check(p)
			if !ok {
				continue
			}
			report.Violations = append(report.Violations, v)
			logger.Warn("ledger posting failed re-validation",
				slog.Int64("company_id", v.Key.CompanyID),
				slog.String("voucher_type", string(v.Key.VoucherType)),
				slog.String("voucher_no", v.Key.VoucherNo),
				slog.String("kind", v.Kind),
				slog.Any("error", v.Err))
			j.metrics().AddIntegrityViolations(v.Kind, companyID, 1)
		}
	}

	logger.Info("completed ledger integrity scan",
		slog.Int("companies", report.Companies),
		slog.Int("postings", report.Postings),
		slog.Int("violations", len(report.Violations)))
	return report, nil
}

func (j *LedgerIntegrityJob) check(p ledger.Posting) (Violation, bool) {
	base := p.BaseCurrency
	if base == "" {
		base = j.BaseCurrency
	}
	revalidated, err := ledger.NewValidator(base).ValidatePosting(p.Input())
	if err != nil {
		return Violation{Key: p.Key(), Kind: string(ledger.KindOf(err)), Err: err}, true
	}
	if !revalidated.TotalDebit.Equal(p.TotalDebit) || !revalidated.TotalCredit.Equal(p.TotalCredit) {
		return Violation{Key: p.Key(), Kind: kindTotalMismatch, Err: &ledger.UnbalancedPostingError{
			Currency:  base,
			Debit:     p.TotalDebit,
			Credit:    p.TotalCredit,
			Imbalance: p.TotalDebit.Sub(revalidated.TotalDebit),
		}}, true
	}
	return Violation{}, false
}

func (j *LedgerIntegrityJob) window(payload LedgerIntegrityPayload) (time.Time, time.Time, error) {
	to, err := parseDay(payload.To, j.now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	lookback := payload.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	from, err := parseDay(payload.From, to.AddDate(0, 0, -lookback))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("ledger integrity: from after to")
	}
	return from, to, nil
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
