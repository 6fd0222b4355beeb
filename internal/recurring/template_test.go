package recurring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDecodeDataByTransactionType(t *testing.T) {
	raw := []byte(`{"transaction_type":"sales_invoice","customer_id":7,"receivable_account_id":1200,"due_days":30,
"items":[{"account_id":4000,"amount":"250.00"},{"account_id":4100,"amount":50}]}`)

	data, err := DecodeData(raw)
	require.NoError(t, err)
	invoice, ok := data.(InvoiceTemplate)
	require.True(t, ok)
	require.Equal(t, KindInvoice, invoice.Kind())
	require.Equal(t, int64(7), invoice.CustomerID)
	require.Len(t, invoice.Items, 2)
	require.True(t, invoice.Items[1].Amount.Equal(decimal.NewFromInt(50)))

	encoded, err := EncodeData(invoice)
	require.NoError(t, err)
	again, err := DecodeData(encoded)
	require.NoError(t, err)
	require.Equal(t, KindInvoice, again.Kind())
}

func TestDecodeDataRejectsUnknownType(t *testing.T) {
	_, err := DecodeData([]byte(`{"transaction_type":"payroll"}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeData([]byte(`{"lines":[]}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeData([]byte(`not json`))
	require.Error(t, err)

	_, err = EncodeData(nil)
	require.ErrorIs(t, err, ErrMissingData)
}

func TestBuildPostingJournal(t *testing.T) {
	tmpl := Template{ID: 3, CompanyID: 1, Data: JournalTemplate{
		Remarks: "rent accrual",
		Lines: []TemplateLine{
			{AccountID: 6100, Debit: decimal.NewFromInt(1000)},
			{AccountID: 2100, Credit: decimal.NewFromInt(1000), Remarks: "accrued rent"},
		},
	}}

	in, err := tmpl.BuildPosting(day(2024, 4, 1))
	require.NoError(t, err)
	require.Equal(t, ledger.VoucherJournalEntry, in.VoucherType)
	require.Equal(t, "REC-3-20240401", in.VoucherNo)
	require.Equal(t, "rent accrual", in.Lines[0].Remarks)
	require.Equal(t, "accrued rent", in.Lines[1].Remarks)

	posting, err := ledger.NewValidator("USD").ValidatePosting(in)
	require.NoError(t, err)
	require.True(t, posting.TotalDebit.Equal(decimal.NewFromInt(1000)))
}

func TestBuildPostingInvoiceAndBillMirror(t *testing.T) {
	items := []ItemLine{
		{AccountID: 4000, Amount: decimal.RequireFromString("250.00")},
		{AccountID: 4100, Amount: decimal.RequireFromString("50.00")},
	}
	on := day(2024, 4, 1)

	invoice, err := Template{ID: 1, CompanyID: 1, Data: InvoiceTemplate{
		CustomerID: 7, ReceivableAccountID: 1200, DueDays: 30, Items: items,
	}}.BuildPosting(on)
	require.NoError(t, err)
	require.Equal(t, ledger.VoucherSalesInvoice, invoice.VoucherType)
	receivable := invoice.Lines[0]
	require.Equal(t, int64(1200), receivable.AccountID)
	require.True(t, receivable.Debit.Equal(decimal.NewFromInt(300)))
	require.Equal(t, ledger.PartyCustomer, receivable.PartyType)
	require.Equal(t, invoice.VoucherNo, receivable.AgainstVoucher)
	require.Equal(t, day(2024, 5, 1), *receivable.DueDate)
	require.True(t, invoice.Lines[1].Credit.Equal(decimal.NewFromInt(250)))

	bill, err := Template{ID: 2, CompanyID: 1, Data: BillTemplate{
		SupplierID: 9, PayableAccountID: 2000, Items: items,
	}}.BuildPosting(on)
	require.NoError(t, err)
	require.Equal(t, ledger.VoucherPurchaseInvoice, bill.VoucherType)
	payable := bill.Lines[len(bill.Lines)-1]
	require.True(t, payable.Credit.Equal(decimal.NewFromInt(300)))
	require.Equal(t, ledger.PartySupplier, payable.PartyType)
	require.True(t, bill.Lines[0].Debit.Equal(decimal.NewFromInt(250)))

	v := ledger.NewValidator("USD")
	_, err = v.ValidatePosting(invoice)
	require.NoError(t, err)
	_, err = v.ValidatePosting(bill)
	require.NoError(t, err)
}

func TestBuildPostingWithoutData(t *testing.T) {
	_, err := Template{ID: 1}.BuildPosting(day(2024, 4, 1))
	require.ErrorIs(t, err, ErrMissingData)
}

func TestFrequencyNextClampsMonthEnd(t *testing.T) {
	next, err := Monthly.Next(day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, day(2024, 2, 29), next)

	next, err = Quarterly.Next(day(2024, 11, 30))
	require.NoError(t, err)
	require.Equal(t, day(2025, 2, 28), next)

	next, err = Weekly.Next(day(2024, 12, 30))
	require.NoError(t, err)
	require.Equal(t, day(2025, 1, 6), next)

	_, err = Frequency("fortnightly").Next(day(2024, 1, 1))
	require.ErrorIs(t, err, ErrUnknownFrequency)
}

func TestTemplateDueRespectsEndDate(t *testing.T) {
	end := day(2024, 3, 31)
	tmpl := Template{Active: true, NextRun: day(2024, 3, 1), EndDate: &end}
	require.True(t, tmpl.Due(day(2024, 3, 15)))
	require.False(t, tmpl.Due(day(2024, 2, 28)))

	tmpl.NextRun = day(2024, 4, 1)
	require.False(t, tmpl.Due(day(2024, 4, 15)))

	tmpl.NextRun, tmpl.Active = day(2024, 3, 1), false
	require.False(t, tmpl.Due(day(2024, 3, 15)))
}
