// Package recurring turns stored recurring-transaction templates into ledger
// postings on their schedule.
package recurring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Kind is the transaction_type discriminant of template data.
type Kind string

const (
	KindJournal Kind = "journal_entry"
	KindInvoice Kind = "sales_invoice"
	KindBill    Kind = "purchase_invoice"
)

var (
	// ErrUnknownKind indicates template data with an unsupported transaction_type.
	ErrUnknownKind = errors.New("recurring: unknown transaction type")
	// ErrMissingData indicates a template without a payload.
	ErrMissingData = errors.New("recurring: template data missing")
	// ErrUnknownFrequency indicates an unsupported schedule.
	ErrUnknownFrequency = errors.New("recurring: unknown frequency")
)

// Data is the typed payload of a template. The set of implementations is closed:
// JournalTemplate, InvoiceTemplate and BillTemplate.
type Data interface {
	Kind() Kind
	sealed()
}

// TemplateLine is one fixed journal line.
type TemplateLine struct {
	AccountID  int64           `json:"account_id"`
	Debit      decimal.Decimal `json:"debit"`
	Credit     decimal.Decimal `json:"credit"`
	CostCenter string          `json:"cost_center,omitempty"`
	Project    string          `json:"project,omitempty"`
	Remarks    string          `json:"remarks,omitempty"`
}

// ItemLine is one income or expense line of an invoice or bill.
type ItemLine struct {
	AccountID  int64           `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	CostCenter string          `json:"cost_center,omitempty"`
	Remarks    string          `json:"remarks,omitempty"`
}

// JournalTemplate repeats a fixed journal entry.
type JournalTemplate struct {
	Lines   []TemplateLine `json:"lines"`
	Remarks string         `json:"remarks,omitempty"`
}

// InvoiceTemplate repeats a sales invoice: the receivable is debited and each
// item credits its income account.
type InvoiceTemplate struct {
	CustomerID          int64      `json:"customer_id"`
	ReceivableAccountID int64      `json:"receivable_account_id"`
	DueDays             int        `json:"due_days"`
	Items               []ItemLine `json:"items"`
	Remarks             string     `json:"remarks,omitempty"`
}

// BillTemplate repeats a purchase invoice: each item debits its expense
// account and the payable is credited.
type BillTemplate struct {
	SupplierID       int64      `json:"supplier_id"`
	PayableAccountID int64      `json:"payable_account_id"`
	DueDays          int        `json:"due_days"`
	Items            []ItemLine `json:"items"`
	Remarks          string     `json:"remarks,omitempty"`
}

func (JournalTemplate) Kind() Kind { return KindJournal }
func (InvoiceTemplate) Kind() Kind { return KindInvoice }
func (BillTemplate) Kind() Kind { return KindBill }

func (JournalTemplate) sealed() {}
func (InvoiceTemplate) sealed() {}
func (BillTemplate) sealed() {}

// DecodeData parses a JSON payload keyed by its transaction_type field.
func DecodeData(raw []byte) (Data, error) {
	var head struct {
		Type Kind `json:"transaction_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("recurring: decode template data: %w", err)
	}
	var (
		data Data
		err  error
	)
	switch head.Type {
	case KindJournal:
		var d JournalTemplate
		err = decodeBody(raw, &d)
		data = d
	case KindInvoice:
		var d InvoiceTemplate
		err = decodeBody(raw, &d)
		data = d
	case KindBill:
		var d BillTemplate
		err = decodeBody(raw, &d)
		data = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeBody(raw []byte, dst any) error {
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(dst); err != nil {
		return fmt.Errorf("recurring: decode template data: %w", err)
	}
	return nil
}

// EncodeData renders d with its transaction_type discriminant.
func EncodeData(d Data) ([]byte, error) {
	switch v := d.(type) {
	case JournalTemplate:
		return json.Marshal(struct {
			Type Kind `json:"transaction_type"`
			JournalTemplate
		}{KindJournal, v})
	case InvoiceTemplate:
		return json.Marshal(struct {
			Type Kind `json:"transaction_type"`
			InvoiceTemplate
		}{KindInvoice, v})
	case BillTemplate:
		return json.Marshal(struct {
			Type Kind `json:"transaction_type"`
			BillTemplate
		}{KindBill, v})
	case nil:
		return nil, ErrMissingData
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, d)
	}
}

// Frequency is the schedule of a template.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// Next returns the run following t. Month-based schedules clamp to the last
// day of shorter months.
func (f Frequency) Next(t time.Time) (time.Time, error) {
	switch f {
	case Daily:
		return t.AddDate(0, 0, 1), nil
	case Weekly:
		return t.AddDate(0, 0, 7), nil
	case Monthly:
		return addMonths(t, 1), nil
	case Quarterly:
		return addMonths(t, 3), nil
	case Yearly:
		return addMonths(t, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, f)
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Template is a stored recurring transaction.
type Template struct {
	ID        int64
	CompanyID int64
	Name      string
	Frequency Frequency
	NextRun   time.Time
	EndDate   *time.Time
	Active    bool
	Data      Data

	// decodeErr is set when the stored payload could not be decoded.
	decodeErr error
}

// Due reports whether the template has a run on or before on.
func (t Template) Due(on time.Time) bool {
	return t.Active && !dateOnly(t.NextRun).After(dateOnly(on)) && !t.ended(t.NextRun)
}

func (t Template) ended(run time.Time) bool {
	return t.EndDate != nil && dateOnly(run).After(dateOnly(*t.EndDate))
}

// VoucherNo is the voucher the run on a given date posts under. It is stable so
// a repeated run finds the earlier posting instead of duplicating it.
func (t Template) VoucherNo(on time.Time) string {
	return fmt.Sprintf("REC-%d-%s", t.ID, on.Format("20060102"))
}

// BuildPosting expands the template into the posting for the run on date on.
func (t Template) BuildPosting(on time.Time) (ledger.PostingInput, error) {
	if t.decodeErr != nil {
		return ledger.PostingInput{}, t.decodeErr
	}
	on = dateOnly(on)
	in := ledger.PostingInput{
		CompanyID:   t.CompanyID,
		VoucherNo:   t.VoucherNo(on),
		PostingDate: on,
	}
	switch d := t.Data.(type) {
	case JournalTemplate:
		in.VoucherType = ledger.VoucherJournalEntry
		for _, l := range d.Lines {
			in.Lines = append(in.Lines, ledger.LineInput{
				AccountID:  l.AccountID,
				Debit:      l.Debit,
				Credit:     l.Credit,
				CostCenter: l.CostCenter,
				Project:    l.Project,
				Remarks:    firstNonEmpty(l.Remarks, d.Remarks),
			})
		}
	case InvoiceTemplate:
		in.VoucherType = ledger.VoucherSalesInvoice
		total, items := itemLines(d.Items, false, d.Remarks)
		party := partyLine(in, d.ReceivableAccountID, ledger.PartyCustomer, d.CustomerID, d.DueDays, d.Remarks)
		party.Debit = total
		in.Lines = append([]ledger.LineInput{party}, items...)
	case BillTemplate:
		in.VoucherType = ledger.VoucherPurchaseInvoice
		total, items := itemLines(d.Items, true, d.Remarks)
		party := partyLine(in, d.PayableAccountID, ledger.PartySupplier, d.SupplierID, d.DueDays, d.Remarks)
		party.Credit = total
		in.Lines = append(items, party)
	case nil:
		return ledger.PostingInput{}, ErrMissingData
	default:
		return ledger.PostingInput{}, fmt.Errorf("%w: %T", ErrUnknownKind, t.Data)
	}
	return in, nil
}

func itemLines(items []ItemLine, debit bool, remarks string) (decimal.Decimal, []ledger.LineInput) {
	total := decimal.Zero
	lines := make([]ledger.LineInput, 0, len(items))
	for _, it := range items {
		line := ledger.LineInput{
			AccountID:  it.AccountID,
			CostCenter: it.CostCenter,
			Remarks:    firstNonEmpty(it.Remarks, remarks),
		}
		if debit {
			line.Debit = it.Amount
		} else {
			line.Credit = it.Amount
		}
		total = total.Add(it.Amount)
		lines = append(lines, line)
	}
	return total, lines
}

// partyLine settles against the voucher itself so payments can later allocate to it.
func partyLine(in ledger.PostingInput, accountID int64, party ledger.PartyType, partyID int64, dueDays int, remarks string) ledger.LineInput {
	due := in.PostingDate.AddDate(0, 0, dueDays)
	return ledger.LineInput{
		AccountID:          accountID,
		AgainstVoucherType: in.VoucherType,
		AgainstVoucher:     in.VoucherNo,
		PartyType:          party,
		PartyID:            partyID,
		DueDate:            &due,
		Remarks:            remarks,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
