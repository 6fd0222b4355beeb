package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/allocation"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const idempotencyModule = "payments.submit"

// RepositoryPort is the store the service commits through.
type RepositoryPort interface {
	allocation.TargetProvider
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards submit retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Attach(ctx context.Context, key, module, ref string) error
	Reference(ctx context.Context, key, module string) (string, error)
	Delete(ctx context.Context, key, module string) error
}

// Recorder receives allocation and rejection counts.
type Recorder interface {
	ObservePostingRejected(kind string)
	ObserveAllocation(mode, party string, warnings int)
}

// Config carries company-wide posting defaults.
type Config struct {
	BaseCurrency      string
	RoundOffAccountID int64
}

// Service orchestrates payment allocation, posting and cancellation.
type Service struct {
	repo      RepositoryPort
	engine    *allocation.Engine
	validator ledger.Validator
	audit     AuditPort
	idem      IdempotencyPort
	metrics   Recorder
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewService constructs the payments service. rates may be nil.
func NewService(repo RepositoryPort, rates allocation.RateProvider, audit AuditPort, idem IdempotencyPort, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseCurrency = money.Code(cfg.BaseCurrency)
	return &Service{
		repo:      repo,
		engine:    allocation.NewEngine(repo, rates),
		validator: ledger.NewValidator(cfg.BaseCurrency),
		audit:     audit,
		idem:      idem,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.engine.WithNow(now)
	}
}

// WithMetrics attaches a metrics recorder.
func (s *Service) WithMetrics(m Recorder) {
	s.metrics = m
}

func (s *Service) prepare(in allocation.PaymentInput) allocation.PaymentInput {
	if in.BaseCurrency == "" {
		in.BaseCurrency = s.cfg.BaseCurrency
	}
	if in.Currency == "" {
		in.Currency = in.BaseCurrency
	}
	if in.RoundOffAccountID == 0 {
		in.RoundOffAccountID = s.cfg.RoundOffAccountID
	}
	if in.PostingDate.IsZero() {
		y, m, d := s.now().Date()
		in.PostingDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	in.VoucherNo = strings.TrimSpace(in.VoucherNo)
	if in.VoucherNo == "" {
		in.VoucherNo = allocation.VoucherNo(in)
	}
	return in
}

// Preview plans a payment without persisting anything.
func (s *Service) Preview(ctx context.Context, in allocation.PaymentInput) (allocation.Result, error) {
	return s.allocate(ctx, s.prepare(in))
}

func (s *Service) allocate(ctx context.Context, in allocation.PaymentInput) (allocation.Result, error) {
	res, err := s.engine.Allocate(ctx, in)
	if err != nil {
		if ledger.IsValidation(err) {
			s.observeRejection(err)
		}
		return allocation.Result{}, err
	}
	for _, w := range res.Warnings {
		s.logger.Warn("allocation skipped",
			slog.String("voucher_no", res.VoucherNo),
			slog.Int64("target_id", w.TargetID),
			slog.Int("index", w.Index),
			slog.Any("error", w.Err))
	}
	if s.metrics != nil {
		s.metrics.ObserveAllocation(string(res.Mode), string(in.PartyType), len(res.Warnings))
	}
	return res, nil
}

func (s *Service) observeRejection(err error) {
	if s.metrics != nil {
		s.metrics.ObservePostingRejected(string(ledger.KindOf(err)))
	}
}

// Submit allocates the payment, then persists the posting, the outstanding
// decrements and the payment voucher in one transaction. A retried request
// with the same key returns the original receipt.
func (s *Service) Submit(ctx context.Context, in allocation.PaymentInput, key string, actorID int64) (Receipt, error) {
	in = s.prepare(in)
	if strings.TrimSpace(key) == "" {
		key = in.VoucherNo
	}
	idemKey := fmt.Sprintf("%d:%s", in.CompanyID, strings.TrimSpace(key))
	inserted := false
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.replay(ctx, in, idemKey)
			}
			return Receipt{}, err
		}
		inserted = true
	}
	release := func() {
		if inserted {
			if err := s.idem.Delete(ctx, idemKey, idempotencyModule); err != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", err))
			}
		}
	}

	res, err := s.allocate(ctx, in)
	if err != nil {
		release()
		return Receipt{}, err
	}
	payment := paymentFromResult(in, res, actorID)
	posting := res.Posting
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.Ledger().InsertPosting(ctx, posting)
		if err != nil {
			return err
		}
		posting = stored
		if err := tx.ApplyAllocations(ctx, in.CompanyID, in.PartyType, res.Entries); err != nil {
			return err
		}
		payment, err = tx.InsertPayment(ctx, payment)
		return err
	})
	if err != nil {
		release()
		s.logger.Warn("payment submit failed", slog.String("voucher_no", in.VoucherNo), slog.Any("error", err))
		return Receipt{}, err
	}
	if inserted {
		if err := s.idem.Attach(ctx, idemKey, idempotencyModule, payment.VoucherNo); err != nil {
			s.logger.Warn("attach idempotency reference", slog.String("key", idemKey), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, in.CompanyID, actorID, "payment.submit", payment.VoucherNo, map[string]any{
		"party_type":  string(payment.PartyType),
		"party_id":    payment.CounterpartyID,
		"amount":      payment.Amount.String(),
		"currency":    payment.Currency,
		"unallocated": payment.Unallocated.String(),
		"mode":        string(payment.Mode),
		"allocations": len(payment.Allocations),
	})
	return Receipt{Payment: payment, Posting: posting, Warnings: res.Warnings}, nil
}

// replay returns the receipt stored under idemKey. A key without a reference
// falls back to the request's voucher number, so a submit whose Attach failed
// still replays instead of staying in flight.
func (s *Service) replay(ctx context.Context, in allocation.PaymentInput, idemKey string) (Receipt, error) {
	ref, err := s.idem.Reference(ctx, idemKey, idempotencyModule)
	if err != nil {
		return Receipt{}, err
	}
	attached := ref != ""
	if !attached {
		ref = in.VoucherNo
	}
	var receipt Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, in.CompanyID, ref)
		if err != nil {
			return err
		}
		posting, err := tx.Ledger().GetPosting(ctx, ledger.VoucherKey{CompanyID: in.CompanyID, VoucherType: ledger.VoucherPaymentEntry, VoucherNo: ref})
		if err != nil {
			return err
		}
		receipt = Receipt{Payment: payment, Posting: posting, Replayed: true}
		return nil
	})
	if err != nil {
		if !attached && errors.Is(err, ErrPaymentNotFound) {
			return Receipt{}, ErrPaymentInFlight
		}
		return Receipt{}, err
	}
	if !attached {
		if err := s.idem.Attach(ctx, idemKey, idempotencyModule, ref); err != nil {
			s.logger.Warn("attach idempotency reference", slog.String("key", idemKey), slog.Any("error", err))
		}
	}
	return receipt, nil
}

// Cancel reverses a submitted payment: the reversal posting is stored, the
// original entries are flagged cancelled and the outstanding amounts restored.
func (s *Service) Cancel(ctx context.Context, companyID int64, voucherNo string, actorID int64, on time.Time) (ledger.Posting, error) {
	if on.IsZero() {
		on = s.now()
	}
	var reversal ledger.Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, companyID, voucherNo)
		if err != nil {
			return err
		}
		if payment.DocStatus != ledger.DocStatusSubmitted {
			return ledger.ErrAlreadyCancelled
		}
		original, err := tx.Ledger().GetPosting(ctx, ledger.VoucherKey{CompanyID: companyID, VoucherType: ledger.VoucherPaymentEntry, VoucherNo: voucherNo})
		if err != nil {
			return err
		}
		reversal, err = s.validator.Cancel(original, on)
		if err != nil {
			return err
		}
		if err := tx.Ledger().MarkCancelled(ctx, reversal); err != nil {
			return err
		}
		if err := tx.RestoreAllocations(ctx, payment); err != nil {
			return err
		}
		return tx.UpdatePaymentStatus(ctx, payment.ID, ledger.DocStatusCancelled)
	})
	if err != nil {
		if ledger.IsValidation(err) {
			s.observeRejection(err)
		}
		return ledger.Posting{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "payment.cancel", voucherNo, map[string]any{
		"posting_date": on.Format(time.DateOnly),
		"total":        reversal.Total().String(),
	})
	return reversal, nil
}

// Outstanding lists the open targets of a counterparty with status and aging.
func (s *Service) Outstanding(ctx context.Context, companyID int64, party ledger.PartyType, counterpartyID int64) (OutstandingSummary, error) {
	targets, err := s.repo.OutstandingTargets(ctx, companyID, party, counterpartyID)
	if err != nil {
		return OutstandingSummary{}, err
	}
	today := s.now()
	sort.SliceStable(targets, func(i, j int) bool {
		if !targets[i].DueDate.Equal(targets[j].DueDate) {
			return targets[i].DueDate.Before(targets[j].DueDate)
		}
		return targets[i].ID < targets[j].ID
	})
	summary := OutstandingSummary{
		Total:   decimal.Zero,
		ByAging: make(map[allocation.AgingBucket]decimal.Decimal),
		AsOf:    today,
	}
	for _, t := range targets {
		if !t.Outstanding.IsPositive() {
			continue
		}
		item := OutstandingItem{
			Target:      t,
			Status:      allocation.StatusOf(t, today),
			Aging:       allocation.AgingOf(t, today),
			DaysOverdue: allocation.DaysOverdue(t, today),
		}
		summary.Items = append(summary.Items, item)
		summary.Total = summary.Total.Add(t.Outstanding)
		summary.ByAging[item.Aging] = summary.ByAging[item.Aging].Add(t.Outstanding)
	}
	return summary, nil
}

// ValidatePosting runs the posting validator without persisting.
func (s *Service) ValidatePosting(in ledger.PostingInput, mode ledger.Mode) (ledger.Posting, error) {
	posting, err := s.validator.WithMode(mode).ValidatePosting(in)
	if err != nil {
		s.observeRejection(err)
		return ledger.Posting{}, err
	}
	return posting, nil
}

// BaseCurrency reports the configured base currency.
func (s *Service) BaseCurrency() string {
	return s.cfg.BaseCurrency
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action, voucherNo string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "payment_entry",
		EntityID:  voucherNo,
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
