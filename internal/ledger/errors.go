package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

var (
	// ErrNonPositiveAmount indicates an amount at or below zero where a positive one is required.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	// ErrAmountPrecision indicates an amount finer than the currency's minor unit.
	ErrAmountPrecision = errors.New("ledger: amount finer than currency minor unit")
	// ErrUnbalancedLine indicates a line with both or neither of debit and credit.
	ErrUnbalancedLine = errors.New("ledger: line must carry exactly one of debit or credit")
	// ErrMissingExchangeRate indicates a foreign amount without a usable rate.
	ErrMissingExchangeRate = errors.New("ledger: exchange rate required")
	// ErrCurrencyReconciliation indicates account and transaction amounts disagree.
	ErrCurrencyReconciliation = errors.New("ledger: account amount does not reconcile with transaction amount")
	// ErrDanglingReference indicates against_voucher_type without against_voucher.
	ErrDanglingReference = errors.New("ledger: against voucher type set without against voucher")
	// ErrInvalidDateRange indicates a due date before the posting date.
	ErrInvalidDateRange = errors.New("ledger: due date before posting date")
	// ErrUnbalancedPosting indicates total debit differs from total credit.
	ErrUnbalancedPosting = errors.New("ledger: posting debits and credits must balance")
	// ErrEmptyPosting indicates a posting with no non-zero lines.
	ErrEmptyPosting = errors.New("ledger: posting has no amounts")
	// ErrTargetNotFound indicates an allocation referencing an unknown outstanding target.
	ErrTargetNotFound = errors.New("ledger: allocation target not found")
	// ErrInvalidHeader indicates missing or malformed voucher header fields.
	ErrInvalidHeader = errors.New("ledger: invalid voucher header")
	// ErrUnknownVoucherType indicates a voucher type outside the enumeration.
	ErrUnknownVoucherType = errors.New("ledger: unknown voucher type")
	// ErrMissingAccount indicates a line without an account.
	ErrMissingAccount = errors.New("ledger: line missing account")
	// ErrAlreadyCancelled indicates a cancellation of a non-submitted posting.
	ErrAlreadyCancelled = errors.New("ledger: posting is not submitted")
)

// Kind is a stable error code rendered by the web layer.
type Kind string

const (
	KindNone                   Kind = ""
	KindNonPositiveAmount      Kind = "non_positive_amount"
	KindAmountPrecision        Kind = "amount_precision"
	KindUnbalancedLine         Kind = "unbalanced_line"
	KindMissingExchangeRate    Kind = "missing_exchange_rate"
	KindCurrencyReconciliation Kind = "currency_reconciliation"
	KindDanglingReference      Kind = "dangling_reference"
	KindInvalidDateRange       Kind = "invalid_date_range"
	KindUnbalancedPosting      Kind = "unbalanced_posting"
	KindEmptyPosting           Kind = "empty_posting"
	KindTargetNotFound         Kind = "target_not_found"
	KindInvalidHeader          Kind = "invalid_header"
	KindUnknownVoucherType     Kind = "unknown_voucher_type"
	KindMissingAccount         Kind = "missing_account"
	KindAlreadyCancelled       Kind = "already_cancelled"
	KindUnknown                Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNonPositiveAmount, KindNonPositiveAmount},
	{ErrAmountPrecision, KindAmountPrecision},
	{ErrUnbalancedLine, KindUnbalancedLine},
	{ErrMissingExchangeRate, KindMissingExchangeRate},
	{ErrCurrencyReconciliation, KindCurrencyReconciliation},
	{ErrDanglingReference, KindDanglingReference},
	{ErrInvalidDateRange, KindInvalidDateRange},
	{ErrUnbalancedPosting, KindUnbalancedPosting},
	{ErrEmptyPosting, KindEmptyPosting},
	{ErrTargetNotFound, KindTargetNotFound},
	{ErrInvalidHeader, KindInvalidHeader},
	{ErrUnknownVoucherType, KindUnknownVoucherType},
	{ErrMissingAccount, KindMissingAccount},
	{ErrAlreadyCancelled, KindAlreadyCancelled},
}

// KindOf classifies err. For aggregated errors the first reason wins.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var agg ValidationErrors
	if errors.As(err, &agg) && len(agg) > 0 {
		err = agg[0]
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsValidation reports whether err belongs to the ledger error taxonomy.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k != KindNone && k != KindUnknown
}

// LineError pins a taxonomy error to a line and field. Index -1 denotes the header.
type LineError struct {
	Index int
	Field string
	Err   error
}

func (e *LineError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("header %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("line %d %s: %v", e.Index, e.Field, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func lineErr(idx int, field string, err error) error {
	return &LineError{Index: idx, Field: field, Err: err}
}

// UnbalancedPostingError carries the computed totals for diagnostics.
type UnbalancedPostingError struct {
	Currency  string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Imbalance decimal.Decimal
}

func (e *UnbalancedPostingError) Error() string {
	places := money.Places(e.Currency)
	return fmt.Sprintf("%v: debit %s credit %s imbalance %s",
		ErrUnbalancedPosting, e.Debit.StringFixed(places), e.Credit.StringFixed(places), e.Imbalance.StringFixed(places))
}

func (e *UnbalancedPostingError) Unwrap() error {
	return ErrUnbalancedPosting
}

// ValidationErrors aggregates every reason found in exhaustive mode.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, err := range e {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() []error {
	return e
}
