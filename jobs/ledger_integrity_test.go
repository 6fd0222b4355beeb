package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

var scanDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

type postingSourceStub struct {
	companies []int64
	postings  map[int64][]ledger.Posting
	windows   [][2]time.Time
	err       error
}

func (s *postingSourceStub) CompanyIDs(context.Context) ([]int64, error) {
	return s.companies, s.err
}

func (s *postingSourceStub) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, &ledgerTxStub{source: s})
}

type ledgerTxStub struct {
	source *postingSourceStub
}

func (t *ledgerTxStub) InsertPosting(context.Context, ledger.Posting) (ledger.Posting, error) {
	return ledger.Posting{}, errors.New("read only")
}

func (t *ledgerTxStub) GetPosting(context.Context, ledger.VoucherKey) (ledger.Posting, error) {
	return ledger.Posting{}, ledger.ErrPostingNotFound
}

func (t *ledgerTxStub) MarkCancelled(context.Context, ledger.Posting) error {
	return errors.New("read only")
}

func (t *ledgerTxStub) ListPostings(_ context.Context, companyID int64, from, to time.Time) ([]ledger.Posting, error) {
	t.source.windows = append(t.source.windows, [2]time.Time{from, to})
	return t.source.postings[companyID], nil
}

func journal(t *testing.T, companyID int64, voucherNo string, debit, credit int64) ledger.Posting {
	t.Helper()
	in := ledger.PostingInput{
		CompanyID:   companyID,
		VoucherType: ledger.VoucherJournalEntry,
		VoucherNo:   voucherNo,
		PostingDate: scanDay,
		Lines: []ledger.LineInput{
			{AccountID: 1, Debit: decimal.NewFromInt(debit)},
			{AccountID: 2, Credit: decimal.NewFromInt(debit)},
		},
	}
	p, err := ledger.NewValidator("USD").ValidatePosting(in)
	require.NoError(t, err)
	// Simulate a row edited behind the validator's back.
	p.Entries[1].Credit = decimal.NewFromInt(credit)
	p.Entries[1].CreditInAccountCurrency = decimal.NewFromInt(credit)
	return p
}

func newIntegrityJob(source PostingSource) *LedgerIntegrityJob {
	job := NewLedgerIntegrityJob(source, "USD", nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return scanDay.Add(3 * time.Hour) })
	return job
}

func TestLedgerIntegrityFlagsUnbalancedPostings(t *testing.T) {
	source := &postingSourceStub{
		companies: []int64{1, 2},
		postings: map[int64][]ledger.Posting{
			1: {journal(t, 1, "JV-1", 100, 100), journal(t, 1, "JV-2", 100, 90)},
			2: {journal(t, 2, "JV-9", 50, 50)},
		},
	}

	report, err := newIntegrityJob(source).Run(context.Background(), LedgerIntegrityPayload{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Companies)
	require.Equal(t, 3, report.Postings)
	require.Len(t, report.Violations, 1)
	require.Equal(t, "JV-2", report.Violations[0].Key.VoucherNo)
	require.Equal(t, string(ledger.KindUnbalancedPosting), report.Violations[0].Kind)
	require.ErrorIs(t, report.Violations[0].Err, ledger.ErrUnbalancedPosting)

	require.Equal(t, scanDay.AddDate(0, 0, -1), source.windows[0][0])
	require.Equal(t, scanDay, source.windows[0][1])
}

func TestLedgerIntegrityFlagsTamperedTotals(t *testing.T) {
	p := journal(t, 1, "JV-1", 100, 100)
	p.TotalDebit = decimal.NewFromInt(120)
	source := &postingSourceStub{postings: map[int64][]ledger.Posting{1: {p}}}

	report, err := newIntegrityJob(source).Run(context.Background(), LedgerIntegrityPayload{CompanyID: 1, From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	require.Equal(t, kindTotalMismatch, report.Violations[0].Kind)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), source.windows[0][0])
}

func TestLedgerIntegrityRejectsBadWindow(t *testing.T) {
	job := newIntegrityJob(&postingSourceStub{})
	_, err := job.Run(context.Background(), LedgerIntegrityPayload{From: "2024-04-01", To: "2024-03-01"})
	require.Error(t, err)

	_, err = job.Run(context.Background(), LedgerIntegrityPayload{To: "31/03/2024"})
	require.Error(t, err)
}

func TestLedgerIntegrityPropagatesStoreErrors(t *testing.T) {
	source := &postingSourceStub{err: errors.New("connection refused")}
	_, err := newIntegrityJob(source).Run(context.Background(), LedgerIntegrityPayload{})
	require.EqualError(t, err, "connection refused")
}

func TestLedgerIntegrityHandleSkipsBadPayload(t *testing.T) {
	job := newIntegrityJob(&postingSourceStub{})
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{CompanyID: 4, LookbackDays: 7})
	require.NoError(t, err)
	require.Equal(t, TaskLedgerIntegrity, task.Type())
	var payload LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 7, payload.LookbackDays)
	require.NoError(t, job.Handle(context.Background(), task))
}
