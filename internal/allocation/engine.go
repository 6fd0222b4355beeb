package allocation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Engine fetches snapshots and rates, then plans payments against them.
type Engine struct {
	targets TargetProvider
	rates   RateProvider
	now     func() time.Time
}

// NewEngine constructs an Engine. rates may be nil when every payment is in base currency
// or carries an explicit rate.
func NewEngine(targets TargetProvider, rates RateProvider) *Engine {
	return &Engine{targets: targets, rates: rates, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Allocate loads the outstanding targets for the counterparty and plans in against them.
func (e *Engine) Allocate(ctx context.Context, in PaymentInput) (Result, error) {
	if err := checkPayment(in); err != nil {
		return Result{}, err
	}
	if e.targets == nil {
		return Result{}, errors.New("allocation: target provider not configured")
	}
	rate, err := e.ResolveRate(ctx, in)
	if err != nil {
		return Result{}, err
	}
	targets, err := e.targets.OutstandingTargets(ctx, in.CompanyID, in.PartyType, in.CounterpartyID)
	if err != nil {
		return Result{}, fmt.Errorf("allocation: load targets: %w", err)
	}
	return Plan(in, targets, rate, e.now())
}

// ResolveRate returns the payment to base currency rate. An explicit rate must be
// positive and wins, same-currency payments use 1, otherwise the rate provider is asked.
func (e *Engine) ResolveRate(ctx context.Context, in PaymentInput) (decimal.Decimal, error) {
	if err := checkRate(in); err != nil {
		return decimal.Zero, err
	}
	base := money.Code(in.BaseCurrency)
	cur := paymentCurrency(in)
	if cur == base {
		return decimal.NewFromInt(1), nil
	}
	if in.ExchangeRate.Valid {
		return in.ExchangeRate.Decimal, nil
	}
	if e.rates == nil {
		return decimal.Zero, missingRate(ledger.ErrMissingExchangeRate)
	}
	rate, err := e.rates.Rate(ctx, cur, base, in.PostingDate)
	if err != nil {
		if errors.Is(err, ledger.ErrMissingExchangeRate) {
			return decimal.Zero, missingRate(err)
		}
		return decimal.Zero, fmt.Errorf("allocation: resolve rate %s/%s: %w", cur, base, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, missingRate(ledger.ErrMissingExchangeRate)
	}
	return rate, nil
}

func missingRate(err error) error {
	return &ledger.LineError{Index: -1, Field: "exchange_rate", Err: err}
}

func paymentCurrency(in PaymentInput) string {
	if cur := money.Code(in.Currency); cur != "" {
		return cur
	}
	return money.Code(in.BaseCurrency)
}

func header(field string, err error) error {
	return &ledger.LineError{Index: -1, Field: field, Err: err}
}

func checkRate(in PaymentInput) error {
	if in.ExchangeRate.Valid && !in.ExchangeRate.Decimal.IsPositive() {
		return header("exchange_rate", ledger.ErrNonPositiveAmount)
	}
	return nil
}

// checkPayment rejects inputs before any target is touched. Amounts must sit on
// the payment currency's minor unit so allocations match the posted lines.
func checkPayment(in PaymentInput) error {
	switch {
	case !in.Amount.IsPositive():
		return header("amount", ledger.ErrNonPositiveAmount)
	case !onMinorUnit(in.Amount, paymentCurrency(in)):
		return header("amount", ledger.ErrAmountPrecision)
	case in.ExchangeRate.Valid && !in.ExchangeRate.Decimal.IsPositive():
		return header("exchange_rate", ledger.ErrNonPositiveAmount)
	case in.PartyType != ledger.PartyCustomer && in.PartyType != ledger.PartySupplier:
		return ErrInvalidParty
	case in.BankAccountID == 0:
		return header("bank_account_id", ledger.ErrMissingAccount)
	case in.PartyAccountID == 0:
		return header("party_account_id", ledger.ErrMissingAccount)
	case money.Code(in.BaseCurrency) == "":
		return header("base_currency", ledger.ErrInvalidHeader)
	}
	return nil
}

func onMinorUnit(amount decimal.Decimal, currency string) bool {
	return money.Round(amount, currency).Equal(amount)
}

// VoucherNo derives a stable payment voucher number from the request, so a
// retried request without a caller-supplied number maps to the same voucher.
func VoucherNo(in PaymentInput) string {
	var b strings.Builder
	fields := []string{
		strconv.FormatInt(in.CompanyID, 10),
		string(in.PartyType),
		strconv.FormatInt(in.CounterpartyID, 10),
		strconv.FormatInt(in.PartyAccountID, 10),
		strconv.FormatInt(in.BankAccountID, 10),
		in.Amount.String(),
		paymentCurrency(in),
		in.PostingDate.Format(time.DateOnly),
	}
	if in.ExchangeRate.Valid {
		fields = append(fields, in.ExchangeRate.Decimal.String())
	}
	for _, m := range in.Manual {
		fields = append(fields, strconv.FormatInt(m.TargetID, 10)+"="+m.Amount.String())
	}
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte('|')
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return "PAY-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
