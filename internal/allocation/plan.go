package allocation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Plan distributes in.Amount over targets and assembles the payment posting.
// It is deterministic: the same input, snapshot, rate and day give the same result.
// Requests above a target's outstanding amount are clamped, never rejected.
func Plan(in PaymentInput, targets []Target, rate decimal.Decimal, today time.Time) (Result, error) {
	if err := checkPayment(in); err != nil {
		return Result{}, err
	}
	base := money.Code(in.BaseCurrency)
	cur := paymentCurrency(in)
	if cur == base {
		rate = decimal.NewFromInt(1)
	} else if !rate.IsPositive() {
		return Result{}, missingRate(ledger.ErrMissingExchangeRate)
	}
	voucherNo := strings.TrimSpace(in.VoucherNo)
	if voucherNo == "" {
		voucherNo = VoucherNo(in)
	}

	res := Result{
		Mode:         in.Mode(),
		VoucherNo:    voucherNo,
		Currency:     cur,
		ExchangeRate: rate,
		Amount:       in.Amount,
	}
	open := openTargets(targets, cur)
	if res.Mode == ModeManual {
		entries, warnings, err := allocateManual(in.Manual, open, in.Amount, cur, today)
		if err != nil {
			return Result{}, err
		}
		res.Entries, res.Warnings = entries, warnings
	} else {
		res.Entries = allocateFIFO(open, in.Amount, today)
	}

	res.Allocated = decimal.Zero
	for _, e := range res.Entries {
		res.Allocated = res.Allocated.Add(e.AllocatedAmount)
	}
	res.Unallocated = in.Amount.Sub(res.Allocated)

	posting, err := ledger.NewValidator(base).ValidatePosting(buildPosting(in, res, base))
	if err != nil {
		return Result{}, err
	}
	res.Posting = posting
	return res, nil
}

// openTargets drops settled targets and rounds outstanding amounts to the
// payment currency's minor unit.
func openTargets(targets []Target, currency string) []Target {
	open := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Outstanding = money.Round(t.Outstanding, currency)
		if t.Outstanding.IsPositive() {
			open = append(open, t)
		}
	}
	return open
}

func allocateFIFO(open []Target, amount decimal.Decimal, today time.Time) []Entry {
	sorted := make([]Target, len(open))
	copy(sorted, open)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := dateOnly(sorted[i].DueDate), dateOnly(sorted[j].DueDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return sorted[i].ID < sorted[j].ID
	})
	remaining := amount
	var entries []Entry
	for _, t := range sorted {
		if !remaining.IsPositive() {
			break
		}
		alloc := decimal.Min(t.Outstanding, remaining)
		entries = append(entries, newEntry(t, t.Outstanding, alloc, today))
		remaining = remaining.Sub(alloc)
	}
	return entries
}

func allocateManual(requests []ManualAllocation, open []Target, amount decimal.Decimal, currency string, today time.Time) ([]Entry, []Warning, error) {
	for i, req := range requests {
		if !req.Amount.IsPositive() {
			return nil, nil, &ledger.LineError{Index: i, Field: "allocations.amount", Err: ledger.ErrNonPositiveAmount}
		}
		if !onMinorUnit(req.Amount, currency) {
			return nil, nil, &ledger.LineError{Index: i, Field: "allocations.amount", Err: ledger.ErrAmountPrecision}
		}
	}
	byID := make(map[int64]Target, len(open))
	outstanding := make(map[int64]decimal.Decimal, len(open))
	for _, t := range open {
		byID[t.ID] = t
		outstanding[t.ID] = t.Outstanding
	}

	remaining := amount
	var (
		entries  []Entry
		warnings []Warning
	)
	for i, req := range requests {
		t, ok := byID[req.TargetID]
		if !ok {
			warnings = append(warnings, Warning{Index: i, TargetID: req.TargetID,
				Err: fmt.Errorf("%w: %d", ledger.ErrTargetNotFound, req.TargetID)})
			continue
		}
		if !remaining.IsPositive() {
			warnings = append(warnings, Warning{Index: i, TargetID: req.TargetID, Err: ErrPaymentExhausted})
			continue
		}
		before := outstanding[t.ID]
		if !before.IsPositive() {
			warnings = append(warnings, Warning{Index: i, TargetID: req.TargetID, Err: ErrTargetSettled})
			continue
		}
		alloc := decimal.Min(req.Amount, before, remaining)
		entries = append(entries, newEntry(t, before, alloc, today))
		outstanding[t.ID] = before.Sub(alloc)
		remaining = remaining.Sub(alloc)
	}
	return entries, warnings, nil
}

func newEntry(t Target, before, alloc decimal.Decimal, today time.Time) Entry {
	after := before.Sub(alloc)
	snapshot := t
	snapshot.Outstanding = after
	return Entry{
		TargetID:          t.ID,
		TargetNumber:      t.Reference(),
		AllocatedAmount:   alloc,
		OutstandingBefore: before,
		OutstandingAfter:  after,
		StatusAfter:       StatusOf(snapshot, today),
		Version:           t.Version,
	}
}

// buildPosting turns the allocation into payment lines. Customers: debit bank,
// credit receivable. Suppliers: debit payable, credit bank.
func buildPosting(in PaymentInput, res Result, base string) ledger.PostingInput {
	foreign := res.Currency != base
	receive := in.PartyType == ledger.PartyCustomer
	againstType := ledger.VoucherSalesInvoice
	if !receive {
		againstType = ledger.VoucherPurchaseInvoice
	}
	side := func(line *ledger.LineInput, debit bool, amount decimal.Decimal) decimal.Decimal {
		baseAmount := money.Convert(amount, res.ExchangeRate, base)
		if debit {
			line.Debit = baseAmount
		} else {
			line.Credit = baseAmount
		}
		if foreign {
			line.TransactionCurrency = res.Currency
			line.TransactionExchangeRate = decimal.NewNullDecimal(res.ExchangeRate)
			if debit {
				line.DebitInTransactionCurrency = decimal.NewNullDecimal(amount)
			} else {
				line.CreditInTransactionCurrency = decimal.NewNullDecimal(amount)
			}
		}
		return baseAmount
	}

	lines := make([]ledger.LineInput, 0, len(res.Entries)+3)
	bank := ledger.LineInput{AccountID: in.BankAccountID, Remarks: in.Remarks}
	bankBase := side(&bank, receive, res.Amount)
	lines = append(lines, bank)

	partyBase := decimal.Zero
	for _, e := range res.Entries {
		line := ledger.LineInput{
			AccountID:          in.PartyAccountID,
			PartyType:          in.PartyType,
			PartyID:            in.CounterpartyID,
			AgainstVoucherType: againstType,
			AgainstVoucher:     e.TargetNumber,
			Remarks:            in.Remarks,
		}
		partyBase = partyBase.Add(side(&line, !receive, e.AllocatedAmount))
		lines = append(lines, line)
	}
	if res.Unallocated.IsPositive() {
		advance := ledger.LineInput{
			AccountID: in.PartyAccountID,
			PartyType: in.PartyType,
			PartyID:   in.CounterpartyID,
			IsAdvance: true,
			Remarks:   in.Remarks,
		}
		partyBase = partyBase.Add(side(&advance, !receive, res.Unallocated))
		lines = append(lines, advance)
	}

	residual := bankBase.Sub(partyBase)
	if !residual.IsZero() && in.RoundOffAccountID != 0 {
		// a positive residual means the bank side is heavier, so it joins the party side.
		debit := !receive
		if residual.IsNegative() {
			debit = receive
			residual = residual.Neg()
		}
		roundOff := ledger.LineInput{AccountID: in.RoundOffAccountID, Remarks: "exchange rounding"}
		if debit {
			roundOff.Debit = residual
		} else {
			roundOff.Credit = residual
		}
		lines = append(lines, roundOff)
	}

	return ledger.PostingInput{
		CompanyID:   in.CompanyID,
		VoucherType: ledger.VoucherPaymentEntry,
		VoucherNo:   res.VoucherNo,
		PostingDate: in.PostingDate,
		Lines:       lines,
	}
}
