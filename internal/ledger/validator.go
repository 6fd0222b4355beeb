package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Mode selects how many reasons a rejection carries.
type Mode int

const (
	// FailFast stops at the first error found.
	FailFast Mode = iota
	// Exhaustive collects every error into ValidationErrors.
	Exhaustive
)

// Validator checks candidate postings against the double-entry rules.
// It holds no state beyond its options and is safe for concurrent use.
type Validator struct {
	BaseCurrency string
	Mode         Mode
}

// NewValidator returns a fail-fast validator for the given base currency.
func NewValidator(baseCurrency string) Validator {
	return Validator{BaseCurrency: money.Code(baseCurrency)}
}

// WithMode returns a copy of v using mode.
func (v Validator) WithMode(mode Mode) Validator {
	v.Mode = mode
	return v
}

type collector struct {
	mode Mode
	errs []error
}

// add records err and reports whether validation should stop.
func (c *collector) add(err error) bool {
	c.errs = append(c.errs, err)
	return c.mode == FailFast
}

func (c *collector) err() error {
	switch {
	case len(c.errs) == 0:
		return nil
	case c.mode == FailFast:
		return c.errs[0]
	default:
		out := make(ValidationErrors, len(c.errs))
		copy(out, c.errs)
		return out
	}
}

func (v Validator) base() string {
	return money.Code(v.BaseCurrency)
}

// ValidateLine checks the per-line invariants of in.Lines[idx] and returns the
// normalised entry.
func (v Validator) ValidateLine(in PostingInput, idx int) (GLEntry, error) {
	if idx < 0 || idx >= len(in.Lines) {
		return GLEntry{}, fmt.Errorf("ledger: line %d out of range", idx)
	}
	c := &collector{mode: v.Mode}
	entry, _ := v.checkLine(c, in, idx)
	if err := c.err(); err != nil {
		return GLEntry{}, err
	}
	return entry, nil
}

// ValidatePosting validates every line, then requires total debit to equal
// total credit after rounding to the base currency minor unit.
func (v Validator) ValidatePosting(in PostingInput) (Posting, error) {
	c := &collector{mode: v.Mode}
	if stop := v.checkHeader(c, in); stop {
		return Posting{}, c.err()
	}
	if emptyLines(in.Lines) {
		c.add(ErrEmptyPosting)
		return Posting{}, c.err()
	}
	entries := make([]GLEntry, 0, len(in.Lines))
	for idx := range in.Lines {
		entry, stop := v.checkLine(c, in, idx)
		if stop {
			return Posting{}, c.err()
		}
		entries = append(entries, entry)
	}

	base := v.base()
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	debit = money.Round(debit, base)
	credit = money.Round(credit, base)
	if !debit.Equal(credit) {
		c.add(&UnbalancedPostingError{
			Currency:  base,
			Debit:     debit,
			Credit:    credit,
			Imbalance: debit.Sub(credit),
		})
	}
	if err := c.err(); err != nil {
		return Posting{}, err
	}
	return Posting{
		CompanyID:    in.CompanyID,
		VoucherType:  in.VoucherType,
		VoucherNo:    in.VoucherNo,
		PostingDate:  in.PostingDate,
		BaseCurrency: base,
		Entries:      entries,
		TotalDebit:   debit,
		TotalCredit:  credit,
		Balanced:     true,
	}, nil
}

func (v Validator) checkHeader(c *collector, in PostingInput) bool {
	if v.base() == "" {
		if c.add(lineErr(-1, "base_currency", ErrInvalidHeader)) {
			return true
		}
	}
	if in.CompanyID == 0 {
		if c.add(lineErr(-1, "company_id", ErrInvalidHeader)) {
			return true
		}
	}
	if !in.VoucherType.Valid() {
		if c.add(lineErr(-1, "voucher_type", ErrUnknownVoucherType)) {
			return true
		}
	}
	if strings.TrimSpace(in.VoucherNo) == "" {
		if c.add(lineErr(-1, "voucher_no", ErrInvalidHeader)) {
			return true
		}
	}
	if in.PostingDate.IsZero() {
		if c.add(lineErr(-1, "posting_date", ErrInvalidHeader)) {
			return true
		}
	}
	return false
}

func emptyLines(lines []LineInput) bool {
	for _, line := range lines {
		if !line.Debit.IsZero() || !line.Credit.IsZero() {
			return false
		}
	}
	return true
}

// checkLine appends every problem with the line to c. The returned bool is true
// when c asked to stop.
func (v Validator) checkLine(c *collector, in PostingInput, idx int) (GLEntry, bool) {
	line := in.Lines[idx]
	base := v.base()
	entry := GLEntry{
		CompanyID:          in.CompanyID,
		AccountID:          line.AccountID,
		VoucherType:        in.VoucherType,
		VoucherNo:          in.VoucherNo,
		PostingDate:        in.PostingDate,
		Debit:              line.Debit,
		Credit:             line.Credit,
		AgainstVoucherType: line.AgainstVoucherType,
		AgainstVoucher:     strings.TrimSpace(line.AgainstVoucher),
		CostCenter:         line.CostCenter,
		Project:            line.Project,
		PartyType:          line.PartyType,
		PartyID:            line.PartyID,
		IsOpening:          line.IsOpening,
		IsAdvance:          line.IsAdvance,
		DocStatus:          DocStatusSubmitted,
		Remarks:            line.Remarks,
	}
	if line.DueDate != nil {
		due := *line.DueDate
		entry.DueDate = &due
	}
	fail := func(field string, err error) bool {
		return c.add(lineErr(idx, field, err))
	}

	if line.AccountID == 0 && fail("account_id", ErrMissingAccount) {
		return entry, true
	}
	if line.Debit.IsNegative() && fail("debit", ErrNonPositiveAmount) {
		return entry, true
	}
	if line.Credit.IsNegative() && fail("credit", ErrNonPositiveAmount) {
		return entry, true
	}
	debitSide := line.Debit.IsPositive()
	if debitSide == line.Credit.IsPositive() && fail("debit", ErrUnbalancedLine) {
		return entry, true
	}

	accountCurrency := money.Code(line.AccountCurrency)
	if accountCurrency == "" {
		accountCurrency = base
	}
	entry.AccountCurrency = accountCurrency
	accountKnown := true
	if !line.DebitInAccountCurrency.Valid && !line.CreditInAccountCurrency.Valid {
		if accountCurrency == base {
			entry.DebitInAccountCurrency = line.Debit
			entry.CreditInAccountCurrency = line.Credit
		} else {
			accountKnown = false
			if fail("debit_in_account_currency", ErrMissingExchangeRate) {
				return entry, true
			}
		}
	} else {
		entry.DebitInAccountCurrency = line.DebitInAccountCurrency.Decimal
		entry.CreditInAccountCurrency = line.CreditInAccountCurrency.Decimal
		if stop := checkSides(fail, "in_account_currency", debitSide, entry.DebitInAccountCurrency, entry.CreditInAccountCurrency); stop {
			return entry, true
		}
		if accountCurrency == base &&
			(!entry.DebitInAccountCurrency.Equal(line.Debit) || !entry.CreditInAccountCurrency.Equal(line.Credit)) &&
			fail(sideField(debitSide, "in_account_currency"), ErrCurrencyReconciliation) {
			return entry, true
		}
	}

	if line.DebitInTransactionCurrency.Valid || line.CreditInTransactionCurrency.Valid {
		entry.TransactionCurrency = money.Code(line.TransactionCurrency)
		entry.DebitInTransactionCurrency = line.DebitInTransactionCurrency.Decimal
		entry.CreditInTransactionCurrency = line.CreditInTransactionCurrency.Decimal
		rateUsable := line.TransactionExchangeRate.Valid && line.TransactionExchangeRate.Decimal.IsPositive()
		if rateUsable {
			entry.TransactionExchangeRate = line.TransactionExchangeRate.Decimal
		}
		if entry.TransactionCurrency == "" && fail("transaction_currency", ErrMissingExchangeRate) {
			return entry, true
		}
		if !rateUsable && fail("transaction_exchange_rate", ErrMissingExchangeRate) {
			return entry, true
		}
		if stop := checkSides(fail, "in_transaction_currency", debitSide, entry.DebitInTransactionCurrency, entry.CreditInTransactionCurrency); stop {
			return entry, true
		}
		if rateUsable && accountKnown {
			account, txn := entry.CreditInAccountCurrency, entry.CreditInTransactionCurrency
			if debitSide {
				account, txn = entry.DebitInAccountCurrency, entry.DebitInTransactionCurrency
			}
			if !money.Reconciles(account, txn, entry.TransactionExchangeRate, accountCurrency) &&
				fail(sideField(debitSide, "in_account_currency"), ErrCurrencyReconciliation) {
				return entry, true
			}
		}
	}

	if line.DueDate != nil && dateOnly(*line.DueDate).Before(dateOnly(in.PostingDate)) &&
		fail("due_date", ErrInvalidDateRange) {
		return entry, true
	}
	if line.AgainstVoucherType != "" {
		if !line.AgainstVoucherType.Valid() && fail("against_voucher_type", ErrUnknownVoucherType) {
			return entry, true
		}
		if entry.AgainstVoucher == "" && fail("against_voucher", ErrDanglingReference) {
			return entry, true
		}
	}
	return entry, false
}

// checkSides rejects negative tier amounts and amounts on the opposite side of
// the base debit/credit.
func checkSides(fail func(string, error) bool, suffix string, debitSide bool, debit, credit decimal.Decimal) bool {
	if debit.IsNegative() && fail("debit_"+suffix, ErrNonPositiveAmount) {
		return true
	}
	if credit.IsNegative() && fail("credit_"+suffix, ErrNonPositiveAmount) {
		return true
	}
	if debitSide && !credit.IsZero() && fail("credit_"+suffix, ErrUnbalancedLine) {
		return true
	}
	if !debitSide && !debit.IsZero() && fail("debit_"+suffix, ErrUnbalancedLine) {
		return true
	}
	return false
}

func sideField(debitSide bool, suffix string) string {
	if debitSide {
		return "debit_" + suffix
	}
	return "credit_" + suffix
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
