package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/allocation"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

var (
	// ErrSnapshotStale indicates a target changed between snapshot and commit.
	ErrSnapshotStale = errors.New("payments: outstanding snapshot is stale")
	// ErrPaymentNotFound indicates the payment voucher does not exist.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrPaymentInFlight indicates a request with the same key is still being processed.
	ErrPaymentInFlight = errors.New("payments: request already in progress")
)

// Payment is a submitted payment voucher with its allocation set.
type Payment struct {
	ID             int64
	CompanyID      int64
	VoucherNo      string
	PartyType      ledger.PartyType
	CounterpartyID int64
	Amount         decimal.Decimal
	Currency       string
	ExchangeRate   decimal.Decimal
	Unallocated    decimal.Decimal
	PostingDate    time.Time
	Mode           allocation.Mode
	DocStatus      ledger.DocStatus
	Allocations    []allocation.Entry
	CreatedBy      int64
}

// Receipt is returned by Submit. Replayed is set when an earlier identical
// request already produced the payment.
type Receipt struct {
	Payment  Payment
	Posting  ledger.Posting
	Warnings []allocation.Warning
	Replayed bool
}

// OutstandingItem is a target with its derived status.
type OutstandingItem struct {
	Target      allocation.Target
	Status      allocation.Status
	Aging       allocation.AgingBucket
	DaysOverdue int
}

// OutstandingSummary holds every open target of a counterparty with its
// aging totals. Paging happens in the HTTP layer.
type OutstandingSummary struct {
	Items   []OutstandingItem
	Total   decimal.Decimal
	ByAging map[allocation.AgingBucket]decimal.Decimal
	AsOf    time.Time
}

func paymentFromResult(in allocation.PaymentInput, res allocation.Result, actorID int64) Payment {
	return Payment{
		CompanyID:      in.CompanyID,
		VoucherNo:      res.VoucherNo,
		PartyType:      in.PartyType,
		CounterpartyID: in.CounterpartyID,
		Amount:         res.Amount,
		Currency:       res.Currency,
		ExchangeRate:   res.ExchangeRate,
		Unallocated:    res.Unallocated,
		PostingDate:    in.PostingDate,
		Mode:           res.Mode,
		DocStatus:      ledger.DocStatusSubmitted,
		Allocations:    res.Entries,
		CreatedBy:      actorID,
	}
}
