package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Input rebuilds the posting input that produced p. Used to re-validate stored postings.
func (p Posting) Input() PostingInput {
	lines := make([]LineInput, 0, len(p.Entries))
	for _, e := range p.Entries {
		line := LineInput{
			AccountID:               e.AccountID,
			AccountCurrency:         e.AccountCurrency,
			Debit:                   e.Debit,
			Credit:                  e.Credit,
			DebitInAccountCurrency:  decimal.NewNullDecimal(e.DebitInAccountCurrency),
			CreditInAccountCurrency: decimal.NewNullDecimal(e.CreditInAccountCurrency),
			AgainstVoucherType:      e.AgainstVoucherType,
			AgainstVoucher:          e.AgainstVoucher,
			CostCenter:              e.CostCenter,
			Project:                 e.Project,
			PartyType:               e.PartyType,
			PartyID:                 e.PartyID,
			IsOpening:               e.IsOpening,
			IsAdvance:               e.IsAdvance,
			Remarks:                 e.Remarks,
		}
		if e.DueDate != nil {
			due := *e.DueDate
			line.DueDate = &due
		}
		if e.HasTransactionCurrency() {
			line.TransactionCurrency = e.TransactionCurrency
			line.DebitInTransactionCurrency = decimal.NewNullDecimal(e.DebitInTransactionCurrency)
			line.CreditInTransactionCurrency = decimal.NewNullDecimal(e.CreditInTransactionCurrency)
			line.TransactionExchangeRate = decimal.NewNullDecimal(e.TransactionExchangeRate)
		}
		lines = append(lines, line)
	}
	return PostingInput{
		CompanyID:   p.CompanyID,
		VoucherType: p.VoucherType,
		VoucherNo:   p.VoucherNo,
		PostingDate: p.PostingDate,
		Lines:       lines,
	}
}

// AsCancelled returns a copy of p with every entry flagged cancelled.
func (p Posting) AsCancelled() Posting {
	entries := make([]GLEntry, len(p.Entries))
	copy(entries, p.Entries)
	for i := range entries {
		entries[i].IsCancelled = true
		entries[i].DocStatus = DocStatusCancelled
	}
	p.Entries = entries
	return p
}

// Cancel builds the reversing posting for a submitted posting. Each side is
// swapped in every currency tier, due dates are dropped, and the reversal is
// validated before being flagged cancelled. A zero on posts on the original date.
func (v Validator) Cancel(original Posting, on time.Time) (Posting, error) {
	if len(original.Entries) == 0 {
		return Posting{}, ErrEmptyPosting
	}
	for _, e := range original.Entries {
		if e.IsCancelled || e.DocStatus != DocStatusSubmitted {
			return Posting{}, ErrAlreadyCancelled
		}
	}
	if v.BaseCurrency == "" {
		v.BaseCurrency = original.BaseCurrency
	}
	in := original.Input()
	if !on.IsZero() {
		in.PostingDate = on
	}
	for i := range in.Lines {
		line := &in.Lines[i]
		line.Debit, line.Credit = line.Credit, line.Debit
		line.DebitInAccountCurrency, line.CreditInAccountCurrency = line.CreditInAccountCurrency, line.DebitInAccountCurrency
		line.DebitInTransactionCurrency, line.CreditInTransactionCurrency = line.CreditInTransactionCurrency, line.DebitInTransactionCurrency
		line.DueDate = nil
	}
	reversal, err := v.ValidatePosting(in)
	if err != nil {
		return Posting{}, err
	}
	return reversal.AsCancelled(), nil
}
