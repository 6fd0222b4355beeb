package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var postingDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func journal(lines ...LineInput) PostingInput {
	return PostingInput{
		CompanyID:   1,
		VoucherType: VoucherJournalEntry,
		VoucherNo:   "JV-0001",
		PostingDate: postingDay,
		Lines:       lines,
	}
}

func debitLine(account int64, amount string) LineInput {
	return LineInput{AccountID: account, Debit: d(amount)}
}

func creditLine(account int64, amount string) LineInput {
	return LineInput{AccountID: account, Credit: d(amount)}
}

func TestValidatePostingBalanced(t *testing.T) {
	v := NewValidator("usd")
	p, err := v.ValidatePosting(journal(debitLine(10, "100.00"), creditLine(20, "60.00"), creditLine(30, "40.00")))
	require.NoError(t, err)
	require.True(t, p.Balanced)
	require.Equal(t, "USD", p.BaseCurrency)
	require.True(t, p.TotalDebit.Equal(d("100")))
	require.True(t, p.Total().Equal(p.TotalCredit))
	require.Len(t, p.Entries, 3)
	for _, e := range p.Entries {
		require.Equal(t, DocStatusSubmitted, e.DocStatus)
		require.Equal(t, "USD", e.AccountCurrency)
		require.True(t, e.DebitInAccountCurrency.Equal(e.Debit))
		require.True(t, e.CreditInAccountCurrency.Equal(e.Credit))
		require.Equal(t, "JV-0001", e.VoucherNo)
	}
}

func TestValidatePostingImbalance(t *testing.T) {
	v := NewValidator("USD")
	_, err := v.ValidatePosting(journal(debitLine(10, "100.00"), creditLine(20, "90.00")))
	require.ErrorIs(t, err, ErrUnbalancedPosting)
	var unbalanced *UnbalancedPostingError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Imbalance.Equal(d("10.00")))
	require.Contains(t, err.Error(), "imbalance 10.00")
	require.Equal(t, KindUnbalancedPosting, KindOf(err))
}

func TestValidatePostingRoundsTotalsToMinorUnit(t *testing.T) {
	v := NewValidator("USD")
	_, err := v.ValidatePosting(journal(debitLine(10, "33.333"), debitLine(11, "33.333"), creditLine(20, "66.67")))
	require.NoError(t, err)

	_, err = v.ValidatePosting(journal(debitLine(10, "33.33"), creditLine(20, "33.34")))
	require.ErrorIs(t, err, ErrUnbalancedPosting)
}

func TestValidatePostingZeroDecimalCurrency(t *testing.T) {
	v := NewValidator("JPY")
	_, err := v.ValidatePosting(journal(debitLine(10, "1000.4"), creditLine(20, "1000")))
	require.NoError(t, err)
}

func TestValidateLineSides(t *testing.T) {
	v := NewValidator("USD")
	both := LineInput{AccountID: 10, Debit: d("5"), Credit: d("5")}
	_, err := v.ValidateLine(journal(both), 0)
	require.ErrorIs(t, err, ErrUnbalancedLine)

	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, 0, lineErr.Index)

	neither := LineInput{AccountID: 10}
	_, err = v.ValidateLine(journal(debitLine(11, "1"), neither), 1)
	require.ErrorIs(t, err, ErrUnbalancedLine)

	negative := LineInput{AccountID: 10, Debit: d("-5")}
	_, err = v.ValidateLine(journal(negative), 0)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
	require.Equal(t, KindNonPositiveAmount, KindOf(err))

	_, err = v.ValidateLine(journal(LineInput{Debit: d("1")}), 0)
	require.ErrorIs(t, err, ErrMissingAccount)

	_, err = v.ValidateLine(journal(), 3)
	require.Error(t, err)
	require.False(t, IsValidation(err))
}

func TestValidatePostingBothSidesLineRejectedBeforeBalance(t *testing.T) {
	v := NewValidator("USD")
	_, err := v.ValidatePosting(journal(
		LineInput{AccountID: 10, Debit: d("50"), Credit: d("50")},
		debitLine(11, "10"),
		creditLine(12, "10"),
	))
	require.ErrorIs(t, err, ErrUnbalancedLine)
	require.NotErrorIs(t, err, ErrUnbalancedPosting)
}

func TestValidatePostingEmpty(t *testing.T) {
	v := NewValidator("USD")
	_, err := v.ValidatePosting(journal())
	require.ErrorIs(t, err, ErrEmptyPosting)

	_, err = v.ValidatePosting(journal(LineInput{AccountID: 1}, LineInput{AccountID: 2}))
	require.ErrorIs(t, err, ErrEmptyPosting)
}

func TestValidatePostingHeader(t *testing.T) {
	v := NewValidator("USD")
	in := journal(debitLine(10, "1"), creditLine(20, "1"))
	in.VoucherType = "Sales Order"
	_, err := v.ValidatePosting(in)
	require.ErrorIs(t, err, ErrUnknownVoucherType)

	in = journal(debitLine(10, "1"), creditLine(20, "1"))
	in.VoucherNo = "  "
	_, err = v.ValidatePosting(in)
	require.ErrorIs(t, err, ErrInvalidHeader)
	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, -1, lineErr.Index)
	require.Contains(t, err.Error(), "header voucher_no")

	_, err = Validator{}.ValidatePosting(journal(debitLine(10, "1"), creditLine(20, "1")))
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestValidateLineDanglingReference(t *testing.T) {
	v := NewValidator("USD")
	line := creditLine(20, "100")
	line.AgainstVoucherType = VoucherSalesInvoice
	_, err := v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrDanglingReference)

	line.AgainstVoucher = "SINV-0001"
	entry, err := v.ValidateLine(journal(line), 0)
	require.NoError(t, err)
	require.Equal(t, "SINV-0001", entry.AgainstVoucher)

	line.AgainstVoucherType = "Quotation"
	_, err = v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrUnknownVoucherType)
}

func TestValidateLineDueDate(t *testing.T) {
	v := NewValidator("USD")
	line := debitLine(10, "100")
	earlier := postingDay.AddDate(0, 0, -1)
	line.DueDate = &earlier
	_, err := v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrInvalidDateRange)

	sameDayLater := postingDay.Add(-time.Hour).AddDate(0, 0, 1)
	line.DueDate = &sameDayLater
	entry, err := v.ValidateLine(journal(line), 0)
	require.NoError(t, err)
	require.NotNil(t, entry.DueDate)

	sameDay := postingDay.Add(5 * time.Hour)
	in := journal(line)
	in.PostingDate = postingDay.Add(20 * time.Hour)
	in.Lines[0].DueDate = &sameDay
	_, err = v.ValidateLine(in, 0)
	require.NoError(t, err)
}

func TestValidateLineAccountCurrency(t *testing.T) {
	v := NewValidator("USD")

	foreign := LineInput{AccountID: 10, AccountCurrency: "EUR", Debit: d("110")}
	_, err := v.ValidateLine(journal(foreign), 0)
	require.ErrorIs(t, err, ErrMissingExchangeRate)

	foreign.DebitInAccountCurrency = nd("100")
	entry, err := v.ValidateLine(journal(foreign), 0)
	require.NoError(t, err)
	require.Equal(t, "EUR", entry.AccountCurrency)
	require.True(t, entry.DebitInAccountCurrency.Equal(d("100")))
	require.True(t, entry.CreditInAccountCurrency.IsZero())

	foreign.CreditInAccountCurrency = nd("1")
	_, err = v.ValidateLine(journal(foreign), 0)
	require.ErrorIs(t, err, ErrUnbalancedLine)

	mismatched := LineInput{AccountID: 10, AccountCurrency: "USD", Debit: d("100"), DebitInAccountCurrency: nd("99")}
	_, err = v.ValidateLine(journal(mismatched), 0)
	require.ErrorIs(t, err, ErrCurrencyReconciliation)
}

func TestValidateLineTransactionCurrency(t *testing.T) {
	v := NewValidator("USD")
	line := LineInput{
		AccountID:                  10,
		Debit:                      d("110.00"),
		TransactionCurrency:        "EUR",
		DebitInTransactionCurrency: nd("100.00"),
		TransactionExchangeRate:    nd("1.1"),
	}
	entry, err := v.ValidateLine(journal(line), 0)
	require.NoError(t, err)
	require.True(t, entry.HasTransactionCurrency())
	require.True(t, entry.TransactionExchangeRate.Equal(d("1.1")))

	line.TransactionExchangeRate = decimal.NullDecimal{}
	_, err = v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrMissingExchangeRate)

	line.TransactionExchangeRate = nd("0")
	_, err = v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrMissingExchangeRate)

	line.TransactionExchangeRate = nd("1.2")
	_, err = v.ValidateLine(journal(line), 0)
	require.ErrorIs(t, err, ErrCurrencyReconciliation)
	require.Equal(t, KindCurrencyReconciliation, KindOf(err))

	line.TransactionExchangeRate = nd("1.10004")
	_, err = v.ValidateLine(journal(line), 0)
	require.NoError(t, err)
}

func TestValidatePostingExhaustive(t *testing.T) {
	v := NewValidator("USD").WithMode(Exhaustive)
	dangling := creditLine(20, "40")
	dangling.AgainstVoucherType = VoucherPurchaseInvoice
	_, err := v.ValidatePosting(journal(
		LineInput{AccountID: 10, Debit: d("-5")},
		dangling,
		debitLine(30, "100"),
	))
	var all ValidationErrors
	require.True(t, errors.As(err, &all))
	require.GreaterOrEqual(t, len(all), 3)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
	require.ErrorIs(t, err, ErrDanglingReference)
	require.ErrorIs(t, err, ErrUnbalancedPosting)
	require.Equal(t, KindNonPositiveAmount, KindOf(err))
}

func TestValidatePostingFailFastReturnsFirst(t *testing.T) {
	v := NewValidator("USD")
	dangling := creditLine(20, "40")
	dangling.AgainstVoucherType = VoucherPurchaseInvoice
	_, err := v.ValidatePosting(journal(LineInput{AccountID: 10, Debit: d("-5")}, dangling))
	require.ErrorIs(t, err, ErrNonPositiveAmount)
	require.NotErrorIs(t, err, ErrDanglingReference)
	var all ValidationErrors
	require.False(t, errors.As(err, &all))
}

func TestValidatePostingDeterministic(t *testing.T) {
	v := NewValidator("USD")
	in := journal(debitLine(10, "12.34"), creditLine(20, "12.34"))
	first, err := v.ValidatePosting(in)
	require.NoError(t, err)
	second, err := v.ValidatePosting(in)
	require.NoError(t, err)
	require.Equal(t, first, second)

	bad := journal(debitLine(10, "12.34"), creditLine(20, "12.00"))
	_, errA := v.ValidatePosting(bad)
	_, errB := v.ValidatePosting(bad)
	require.Equal(t, errA.Error(), errB.Error())
}
