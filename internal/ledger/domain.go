package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// VoucherType enumerates the business documents that generate GL entries.
type VoucherType string

const (
	VoucherSalesInvoice            VoucherType = "Sales Invoice"
	VoucherPurchaseInvoice         VoucherType = "Purchase Invoice"
	VoucherPaymentEntry            VoucherType = "Payment Entry"
	VoucherJournalEntry            VoucherType = "Journal Entry"
	VoucherPeriodClosing           VoucherType = "Period Closing Voucher"
	VoucherOpeningEntry            VoucherType = "Opening Entry"
	VoucherBankReconciliation      VoucherType = "Bank Reconciliation"
	VoucherAssetDepreciation       VoucherType = "Asset Depreciation"
	VoucherDeferredRevenue         VoucherType = "Deferred Revenue"
	VoucherDeferredExpense         VoucherType = "Deferred Expense"
	VoucherExchangeRateRevaluation VoucherType = "Exchange Rate Revaluation"
	VoucherStockEntry              VoucherType = "Stock Entry"
	VoucherLandedCost              VoucherType = "Landed Cost Voucher"
)

var voucherTypes = map[VoucherType]struct{}{
	VoucherSalesInvoice:            {},
	VoucherPurchaseInvoice:         {},
	VoucherPaymentEntry:            {},
	VoucherJournalEntry:            {},
	VoucherPeriodClosing:           {},
	VoucherOpeningEntry:            {},
	VoucherBankReconciliation:      {},
	VoucherAssetDepreciation:       {},
	VoucherDeferredRevenue:         {},
	VoucherDeferredExpense:         {},
	VoucherExchangeRateRevaluation: {},
	VoucherStockEntry:              {},
	VoucherLandedCost:              {},
}

// Valid reports whether v is a known voucher type.
func (v VoucherType) Valid() bool {
	_, ok := voucherTypes[v]
	return ok
}

// DocStatus is the submission lifecycle flag of a voucher.
type DocStatus int

const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

// PartyType identifies the counterparty ledger of a line.
type PartyType string

const (
	PartyCustomer PartyType = "Customer"
	PartySupplier PartyType = "Supplier"
)

// LineInput is one proposed ledger line. A zero Debit or Credit means the side is absent.
type LineInput struct {
	AccountID       int64
	AccountCurrency string

	Debit  decimal.Decimal
	Credit decimal.Decimal

	DebitInAccountCurrency  decimal.NullDecimal
	CreditInAccountCurrency decimal.NullDecimal

	TransactionCurrency         string
	DebitInTransactionCurrency  decimal.NullDecimal
	CreditInTransactionCurrency decimal.NullDecimal
	TransactionExchangeRate     decimal.NullDecimal

	AgainstVoucherType VoucherType
	AgainstVoucher     string

	CostCenter string
	Project    string
	PartyType  PartyType
	PartyID    int64

	DueDate   *time.Time
	IsOpening bool
	IsAdvance bool
	Remarks   string
}

// PostingInput is a candidate posting. Lines share the header voucher and date.
type PostingInput struct {
	CompanyID   int64
	VoucherType VoucherType
	VoucherNo   string
	PostingDate time.Time
	Lines       []LineInput
}

// GLEntry is a validated, normalised ledger line.
type GLEntry struct {
	ID          int64
	CompanyID   int64
	AccountID   int64
	VoucherType VoucherType
	VoucherNo   string
	PostingDate time.Time
	DueDate     *time.Time

	Debit  decimal.Decimal
	Credit decimal.Decimal

	AccountCurrency         string
	DebitInAccountCurrency  decimal.Decimal
	CreditInAccountCurrency decimal.Decimal

	TransactionCurrency         string
	DebitInTransactionCurrency  decimal.Decimal
	CreditInTransactionCurrency decimal.Decimal
	TransactionExchangeRate     decimal.Decimal

	AgainstVoucherType VoucherType
	AgainstVoucher     string

	CostCenter string
	Project    string
	PartyType  PartyType
	PartyID    int64

	IsOpening   bool
	IsAdvance   bool
	IsCancelled bool
	DocStatus   DocStatus
	Remarks     string
}

// IsDebit reports whether the entry sits on the debit side.
func (e GLEntry) IsDebit() bool {
	return e.Debit.IsPositive()
}

// HasTransactionCurrency reports whether the third currency tier is populated.
func (e GLEntry) HasTransactionCurrency() bool {
	return e.TransactionCurrency != ""
}

// Posting is a balanced set of entries owned by a single voucher.
type Posting struct {
	CompanyID    int64
	VoucherType  VoucherType
	VoucherNo    string
	PostingDate  time.Time
	BaseCurrency string
	Entries      []GLEntry
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	Balanced     bool
}

// Total returns the balanced posting amount in base currency.
func (p Posting) Total() decimal.Decimal {
	return p.TotalDebit
}

// Cancelled reports whether every entry of the posting is flagged cancelled.
func (p Posting) Cancelled() bool {
	if len(p.Entries) == 0 {
		return false
	}
	for _, e := range p.Entries {
		if !e.IsCancelled {
			return false
		}
	}
	return true
}
