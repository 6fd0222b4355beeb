package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/allocation"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type allocationRequest struct {
	TargetID int64  `json:"target_id" validate:"required,gt=0"`
	Amount   string `json:"amount" validate:"required,numeric"`
}

type paymentRequest struct {
	CompanyID         int64               `json:"company_id" validate:"required,gt=0"`
	PartyType         string              `json:"party_type" validate:"required,oneof=Customer Supplier"`
	PartyID           int64               `json:"party_id" validate:"required,gt=0"`
	PartyAccountID    int64               `json:"party_account_id" validate:"required,gt=0"`
	BankAccountID     int64               `json:"bank_account_id" validate:"required,gt=0"`
	RoundOffAccountID int64               `json:"round_off_account_id" validate:"omitempty,gt=0"`
	Amount            string              `json:"amount" validate:"required,numeric"`
	Currency          string              `json:"currency" validate:"omitempty,len=3,alpha"`
	ExchangeRate      string              `json:"exchange_rate" validate:"omitempty,numeric"`
	PostingDate       string              `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	VoucherNo         string              `json:"voucher_no" validate:"omitempty,max=64"`
	Remarks           string              `json:"remarks" validate:"omitempty,max=500"`
	Allocations       []allocationRequest `json:"allocations" validate:"omitempty,dive"`
}

func (r paymentRequest) toInput() (allocation.PaymentInput, error) {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return allocation.PaymentInput{}, err
	}
	rate, err := parseOptional("exchange_rate", r.ExchangeRate)
	if err != nil {
		return allocation.PaymentInput{}, err
	}
	postingDate, err := parseDate("posting_date", r.PostingDate)
	if err != nil {
		return allocation.PaymentInput{}, err
	}
	in := allocation.PaymentInput{
		CompanyID:         r.CompanyID,
		PartyType:         ledger.PartyType(r.PartyType),
		CounterpartyID:    r.PartyID,
		PartyAccountID:    r.PartyAccountID,
		BankAccountID:     r.BankAccountID,
		RoundOffAccountID: r.RoundOffAccountID,
		Amount:            amount,
		Currency:          money.Code(r.Currency),
		ExchangeRate:      rate,
		PostingDate:       postingDate,
		VoucherNo:         r.VoucherNo,
		Remarks:           r.Remarks,
	}
	for i, a := range r.Allocations {
		amount, err := parseAmount(fmt.Sprintf("allocations[%d].amount", i), a.Amount)
		if err != nil {
			return allocation.PaymentInput{}, err
		}
		in.Manual = append(in.Manual, allocation.ManualAllocation{TargetID: a.TargetID, Amount: amount})
	}
	return in, nil
}

type lineRequest struct {
	AccountID                   int64  `json:"account_id"`
	AccountCurrency             string `json:"account_currency" validate:"omitempty,len=3,alpha"`
	Debit                       string `json:"debit" validate:"omitempty,numeric"`
	Credit                      string `json:"credit" validate:"omitempty,numeric"`
	DebitInAccountCurrency      string `json:"debit_in_account_currency" validate:"omitempty,numeric"`
	CreditInAccountCurrency     string `json:"credit_in_account_currency" validate:"omitempty,numeric"`
	TransactionCurrency         string `json:"transaction_currency" validate:"omitempty,len=3,alpha"`
	DebitInTransactionCurrency  string `json:"debit_in_transaction_currency" validate:"omitempty,numeric"`
	CreditInTransactionCurrency string `json:"credit_in_transaction_currency" validate:"omitempty,numeric"`
	TransactionExchangeRate     string `json:"transaction_exchange_rate" validate:"omitempty,numeric"`
	AgainstVoucherType          string `json:"against_voucher_type"`
	AgainstVoucher              string `json:"against_voucher"`
	CostCenter                  string `json:"cost_center"`
	Project                     string `json:"project"`
	PartyType                   string `json:"party_type" validate:"omitempty,oneof=Customer Supplier"`
	PartyID                     int64  `json:"party_id"`
	DueDate                     string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	IsOpening                   bool   `json:"is_opening"`
	IsAdvance                   bool   `json:"is_advance"`
	Remarks                     string `json:"remarks"`
}

type postingRequest struct {
	CompanyID   int64         `json:"company_id"`
	VoucherType string        `json:"voucher_type"`
	VoucherNo   string        `json:"voucher_no"`
	PostingDate string        `json:"posting_date" validate:"required,datetime=2006-01-02"`
	Mode        string        `json:"mode" validate:"omitempty,oneof=fail_fast exhaustive"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
}

func (r postingRequest) toInput() (ledger.PostingInput, ledger.Mode, error) {
	postingDate, err := parseDate("posting_date", r.PostingDate)
	if err != nil {
		return ledger.PostingInput{}, ledger.FailFast, err
	}
	in := ledger.PostingInput{
		CompanyID:   r.CompanyID,
		VoucherType: ledger.VoucherType(r.VoucherType),
		VoucherNo:   r.VoucherNo,
		PostingDate: postingDate,
	}
	for i, l := range r.Lines {
		line, err := l.toLine(i)
		if err != nil {
			return ledger.PostingInput{}, ledger.FailFast, err
		}
		in.Lines = append(in.Lines, line)
	}
	mode := ledger.FailFast
	if r.Mode == "exhaustive" {
		mode = ledger.Exhaustive
	}
	return in, mode, nil
}

func (l lineRequest) toLine(idx int) (ledger.LineInput, error) {
	field := func(name string) string {
		return fmt.Sprintf("lines[%d].%s", idx, name)
	}
	line := ledger.LineInput{
		AccountID:           l.AccountID,
		AccountCurrency:     l.AccountCurrency,
		TransactionCurrency: l.TransactionCurrency,
		AgainstVoucherType:  ledger.VoucherType(l.AgainstVoucherType),
		AgainstVoucher:      l.AgainstVoucher,
		CostCenter:          l.CostCenter,
		Project:             l.Project,
		PartyType:           ledger.PartyType(l.PartyType),
		PartyID:             l.PartyID,
		IsOpening:           l.IsOpening,
		IsAdvance:           l.IsAdvance,
		Remarks:             l.Remarks,
	}
	var err error
	if line.Debit, err = parseAmount(field("debit"), l.Debit); err != nil {
		return line, err
	}
	if line.Credit, err = parseAmount(field("credit"), l.Credit); err != nil {
		return line, err
	}
	optional := []struct {
		name string
		raw  string
		dst  *decimal.NullDecimal
	}{
		{"debit_in_account_currency", l.DebitInAccountCurrency, &line.DebitInAccountCurrency},
		{"credit_in_account_currency", l.CreditInAccountCurrency, &line.CreditInAccountCurrency},
		{"debit_in_transaction_currency", l.DebitInTransactionCurrency, &line.DebitInTransactionCurrency},
		{"credit_in_transaction_currency", l.CreditInTransactionCurrency, &line.CreditInTransactionCurrency},
		{"transaction_exchange_rate", l.TransactionExchangeRate, &line.TransactionExchangeRate},
	}
	for _, o := range optional {
		if *o.dst, err = parseOptional(field(o.name), o.raw); err != nil {
			return line, err
		}
	}
	if l.DueDate != "" {
		due, err := parseDate(field("due_date"), l.DueDate)
		if err != nil {
			return line, err
		}
		line.DueDate = &due
	}
	return line, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s is not a decimal", httpx.ErrValidation, field)
	}
	return v, nil
}

func parseOptional(field, raw string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := parseAmount(field, raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrValidation, field)
	}
	return t, nil
}

type glEntryResponse struct {
	AccountID                   int64  `json:"account_id"`
	Debit                       string `json:"debit"`
	Credit                      string `json:"credit"`
	AccountCurrency             string `json:"account_currency"`
	DebitInAccountCurrency      string `json:"debit_in_account_currency"`
	CreditInAccountCurrency     string `json:"credit_in_account_currency"`
	TransactionCurrency         string `json:"transaction_currency,omitempty"`
	DebitInTransactionCurrency  string `json:"debit_in_transaction_currency,omitempty"`
	CreditInTransactionCurrency string `json:"credit_in_transaction_currency,omitempty"`
	TransactionExchangeRate     string `json:"transaction_exchange_rate,omitempty"`
	AgainstVoucherType          string `json:"against_voucher_type,omitempty"`
	AgainstVoucher              string `json:"against_voucher,omitempty"`
	PartyType                   string `json:"party_type,omitempty"`
	PartyID                     int64  `json:"party_id,omitempty"`
	DueDate                     string `json:"due_date,omitempty"`
	IsAdvance                   bool   `json:"is_advance"`
	IsCancelled                 bool   `json:"is_cancelled"`
	DocStatus                   int    `json:"docstatus"`
}

type postingResponse struct {
	CompanyID    int64             `json:"company_id"`
	VoucherType  string            `json:"voucher_type"`
	VoucherNo    string            `json:"voucher_no"`
	PostingDate  string            `json:"posting_date"`
	BaseCurrency string            `json:"base_currency"`
	TotalDebit   string            `json:"total_debit"`
	TotalCredit  string            `json:"total_credit"`
	Balanced     bool              `json:"balanced"`
	Entries      []glEntryResponse `json:"entries"`
}

func newPostingResponse(p ledger.Posting) postingResponse {
	base := money.Places(p.BaseCurrency)
	resp := postingResponse{
		CompanyID:    p.CompanyID,
		VoucherType:  string(p.VoucherType),
		VoucherNo:    p.VoucherNo,
		PostingDate:  p.PostingDate.Format(time.DateOnly),
		BaseCurrency: p.BaseCurrency,
		TotalDebit:   p.TotalDebit.StringFixed(base),
		TotalCredit:  p.TotalCredit.StringFixed(base),
		Balanced:     p.Balanced,
		Entries:      make([]glEntryResponse, 0, len(p.Entries)),
	}
	for _, e := range p.Entries {
		account := money.Places(e.AccountCurrency)
		entry := glEntryResponse{
			AccountID:               e.AccountID,
			Debit:                   e.Debit.StringFixed(base),
			Credit:                  e.Credit.StringFixed(base),
			AccountCurrency:         e.AccountCurrency,
			DebitInAccountCurrency:  e.DebitInAccountCurrency.StringFixed(account),
			CreditInAccountCurrency: e.CreditInAccountCurrency.StringFixed(account),
			AgainstVoucherType:      string(e.AgainstVoucherType),
			AgainstVoucher:          e.AgainstVoucher,
			PartyType:               string(e.PartyType),
			PartyID:                 e.PartyID,
			IsAdvance:               e.IsAdvance,
			IsCancelled:             e.IsCancelled,
			DocStatus:               int(e.DocStatus),
		}
		if e.HasTransactionCurrency() {
			txn := money.Places(e.TransactionCurrency)
			entry.TransactionCurrency = e.TransactionCurrency
			entry.DebitInTransactionCurrency = e.DebitInTransactionCurrency.StringFixed(txn)
			entry.CreditInTransactionCurrency = e.CreditInTransactionCurrency.StringFixed(txn)
			entry.TransactionExchangeRate = e.TransactionExchangeRate.String()
		}
		if e.DueDate != nil {
			entry.DueDate = e.DueDate.Format(time.DateOnly)
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return resp
}

type allocationEntryResponse struct {
	TargetID          int64  `json:"target_id"`
	TargetNumber      string `json:"target_number"`
	AllocatedAmount   string `json:"allocated_amount"`
	OutstandingBefore string `json:"outstanding_before"`
	OutstandingAfter  string `json:"outstanding_after"`
	StatusAfter       string `json:"status_after,omitempty"`
}

type warningResponse struct {
	Index    int    `json:"index"`
	TargetID int64  `json:"target_id"`
	Kind     string `json:"kind,omitempty"`
	Detail   string `json:"detail"`
}

type allocationResponse struct {
	Mode         string                    `json:"mode"`
	VoucherNo    string                    `json:"voucher_no"`
	Currency     string                    `json:"currency"`
	ExchangeRate string                    `json:"exchange_rate"`
	Amount       string                    `json:"amount"`
	Allocated    string                    `json:"allocated"`
	Unallocated  string                    `json:"unallocated"`
	Entries      []allocationEntryResponse `json:"entries"`
	Warnings     []warningResponse         `json:"warnings,omitempty"`
	Posting      postingResponse           `json:"posting"`
}

func newEntryResponses(currency string, entries []allocation.Entry) []allocationEntryResponse {
	places := money.Places(currency)
	out := make([]allocationEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, allocationEntryResponse{
			TargetID:          e.TargetID,
			TargetNumber:      e.TargetNumber,
			AllocatedAmount:   e.AllocatedAmount.StringFixed(places),
			OutstandingBefore: e.OutstandingBefore.StringFixed(places),
			OutstandingAfter:  e.OutstandingAfter.StringFixed(places),
			StatusAfter:       string(e.StatusAfter),
		})
	}
	return out
}

func newWarningResponses(warnings []allocation.Warning) []warningResponse {
	out := make([]warningResponse, 0, len(warnings))
	for _, w := range warnings {
		kind := ""
		if k := ledger.KindOf(w.Err); k != ledger.KindUnknown {
			kind = string(k)
		}
		out = append(out, warningResponse{Index: w.Index, TargetID: w.TargetID, Kind: kind, Detail: w.Error()})
	}
	return out
}

func newAllocationResponse(res allocation.Result) allocationResponse {
	places := money.Places(res.Currency)
	return allocationResponse{
		Mode:         string(res.Mode),
		VoucherNo:    res.VoucherNo,
		Currency:     res.Currency,
		ExchangeRate: res.ExchangeRate.String(),
		Amount:       res.Amount.StringFixed(places),
		Allocated:    res.Allocated.StringFixed(places),
		Unallocated:  res.Unallocated.StringFixed(places),
		Entries:      newEntryResponses(res.Currency, res.Entries),
		Warnings:     newWarningResponses(res.Warnings),
		Posting:      newPostingResponse(res.Posting),
	}
}

type paymentResponse struct {
	VoucherNo    string                    `json:"voucher_no"`
	PartyType    string                    `json:"party_type"`
	PartyID      int64                     `json:"party_id"`
	Amount       string                    `json:"amount"`
	Currency     string                    `json:"currency"`
	ExchangeRate string                    `json:"exchange_rate"`
	Unallocated  string                    `json:"unallocated"`
	PostingDate  string                    `json:"posting_date"`
	Mode         string                    `json:"mode"`
	DocStatus    int                       `json:"docstatus"`
	Allocations  []allocationEntryResponse `json:"allocations"`
}

type receiptResponse struct {
	Payment  paymentResponse   `json:"payment"`
	Posting  postingResponse   `json:"posting"`
	Warnings []warningResponse `json:"warnings,omitempty"`
	Replayed bool              `json:"replayed"`
}

func newReceiptResponse(r Receipt) receiptResponse {
	p := r.Payment
	places := money.Places(p.Currency)
	return receiptResponse{
		Payment: paymentResponse{
			VoucherNo:    p.VoucherNo,
			PartyType:    string(p.PartyType),
			PartyID:      p.CounterpartyID,
			Amount:       p.Amount.StringFixed(places),
			Currency:     p.Currency,
			ExchangeRate: p.ExchangeRate.String(),
			Unallocated:  p.Unallocated.StringFixed(places),
			PostingDate:  p.PostingDate.Format(time.DateOnly),
			Mode:         string(p.Mode),
			DocStatus:    int(p.DocStatus),
			Allocations:  newEntryResponses(p.Currency, p.Allocations),
		},
		Posting:  newPostingResponse(r.Posting),
		Warnings: newWarningResponses(r.Warnings),
		Replayed: r.Replayed,
	}
}

type outstandingItemResponse struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	InvoiceDate string `json:"invoice_date"`
	DueDate     string `json:"due_date"`
	GrandTotal  string `json:"grand_total"`
	Outstanding string `json:"outstanding_amount"`
	Status      string `json:"status"`
	Aging       string `json:"aging_bucket"`
	DaysOverdue int    `json:"days_overdue"`
}

type outstandingResponse struct {
	Items      []outstandingItemResponse `json:"items"`
	Total      string                    `json:"total"`
	ByAging    map[string]string         `json:"by_aging"`
	AsOf       string                    `json:"as_of"`
	Pagination shared.Pagination         `json:"pagination"`
}

func newOutstandingResponse(summary OutstandingSummary, currency string, page shared.Pagination) outstandingResponse {
	places := money.Places(currency)
	start, end := page.Bounds()
	resp := outstandingResponse{
		Items:      make([]outstandingItemResponse, 0, end-start),
		Total:      summary.Total.StringFixed(places),
		ByAging:    make(map[string]string, len(summary.ByAging)),
		AsOf:       summary.AsOf.Format(time.DateOnly),
		Pagination: page,
	}
	for _, item := range summary.Items[start:end] {
		t := item.Target
		resp.Items = append(resp.Items, outstandingItemResponse{
			ID:          t.ID,
			Number:      t.Reference(),
			InvoiceDate: t.InvoiceDate.Format(time.DateOnly),
			DueDate:     t.DueDate.Format(time.DateOnly),
			GrandTotal:  t.GrandTotal.StringFixed(places),
			Outstanding: t.Outstanding.StringFixed(places),
			Status:      string(item.Status),
			Aging:       string(item.Aging),
			DaysOverdue: item.DaysOverdue,
		})
	}
	for bucket, total := range summary.ByAging {
		resp.ByAging[string(bucket)] = total.StringFixed(places)
	}
	return resp
}
