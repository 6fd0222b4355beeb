package allocation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Mode distinguishes caller-directed from FIFO allocation.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Status is the settlement state of an outstanding target.
type Status string

const (
	StatusPaid       Status = "Paid"
	StatusPartlyPaid Status = "Partly Paid"
	StatusOverdue    Status = "Overdue"
	StatusUnpaid     Status = "Unpaid"
)

// AgingBucket groups targets by days past due.
type AgingBucket string

const (
	AgingNotDue AgingBucket = "Not Due"
	Aging1To30  AgingBucket = "1-30"
	Aging31To60 AgingBucket = "31-60"
	Aging61To90 AgingBucket = "61-90"
	AgingOver90 AgingBucket = "90+"
)

var (
	// ErrInvalidParty indicates a party type the engine cannot post for.
	ErrInvalidParty = errors.New("allocation: party type must be Customer or Supplier")
	// ErrPaymentExhausted marks allocations skipped after the payment ran out.
	ErrPaymentExhausted = errors.New("allocation: payment amount exhausted")
	// ErrTargetSettled marks allocations skipped because an earlier entry settled the target.
	ErrTargetSettled = errors.New("allocation: target already settled by this payment")
)

// Target is a read-only snapshot of an open invoice or bill.
type Target struct {
	ID             int64
	Number         string
	CounterpartyID int64
	InvoiceDate    time.Time
	DueDate        time.Time
	GrandTotal     decimal.Decimal
	Outstanding    decimal.Decimal
	Version        int64
}

// Reference returns the voucher number lines settle against, falling back to the id.
func (t Target) Reference() string {
	if t.Number != "" {
		return t.Number
	}
	return strconv.FormatInt(t.ID, 10)
}

// ManualAllocation asks for an amount against a specific target.
type ManualAllocation struct {
	TargetID int64
	Amount   decimal.Decimal
}

// PaymentInput describes a payment to distribute.
type PaymentInput struct {
	CompanyID         int64
	PartyType         ledger.PartyType
	CounterpartyID    int64
	PartyAccountID    int64
	BankAccountID     int64
	RoundOffAccountID int64
	Amount            decimal.Decimal
	Currency          string
	BaseCurrency      string
	ExchangeRate      decimal.NullDecimal
	PostingDate       time.Time
	VoucherNo         string
	Remarks           string
	Manual            []ManualAllocation
}

// Mode reports how in will be distributed.
func (in PaymentInput) Mode() Mode {
	if len(in.Manual) > 0 {
		return ModeManual
	}
	return ModeAutomatic
}

// Entry is one allocation result. OutstandingAfter = OutstandingBefore - AllocatedAmount.
type Entry struct {
	TargetID          int64
	TargetNumber      string
	AllocatedAmount   decimal.Decimal
	OutstandingBefore decimal.Decimal
	OutstandingAfter  decimal.Decimal
	StatusAfter       Status
	Version           int64
}

// Warning records a skipped manual allocation.
type Warning struct {
	Index    int
	TargetID int64
	Err      error
}

func (w Warning) Error() string {
	return w.Err.Error()
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result is the outcome of a planned payment. Allocated + Unallocated == Amount.
type Result struct {
	Mode         Mode
	VoucherNo    string
	Currency     string
	ExchangeRate decimal.Decimal
	Amount       decimal.Decimal
	Allocated    decimal.Decimal
	Unallocated  decimal.Decimal
	Entries      []Entry
	Warnings     []Warning
	Posting      ledger.Posting
}

// TargetProvider supplies outstanding targets for a counterparty.
type TargetProvider interface {
	OutstandingTargets(ctx context.Context, companyID int64, party ledger.PartyType, counterpartyID int64) ([]Target, error)
}

// RateProvider supplies the rate converting one unit of from into to on a date.
// A missing rate is reported as an error wrapping ledger.ErrMissingExchangeRate.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}
