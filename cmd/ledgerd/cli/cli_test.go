package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubQuoteStore struct {
	quotes []fx.Quote
	err    error
}

func (s *stubQuoteStore) UpsertQuote(_ context.Context, q fx.Quote) error {
	if s.err != nil {
		return s.err
	}
	s.quotes = append(s.quotes, q)
	return nil
}

type stubBumper struct{ bumps int }

func (s *stubBumper) Bump(context.Context) error {
	s.bumps++
	return nil
}

const quotesCSV = `from,to,rate,effective_on
usd,myr,4.7200,2024-03-02
USD,MYR,4.7000,2024-03-01
`

func TestImportCommandDryRun(t *testing.T) {
	store := &stubQuoteStore{}
	cache := &stubBumper{}
	cli, err := NewFXOpsCLI(store, cache)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		Source:     strings.NewReader(quotesCSV),
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	require.Empty(t, store.quotes)
	require.Zero(t, cache.bumps)

	var summary FXImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, FXImportModeDry, summary.Mode)
	require.Len(t, summary.Rows, 2)
	require.Equal(t, "2024-03-01", summary.Rows[0].EffectiveOn)
	require.Equal(t, "MYR", summary.Rows[1].To)
	require.Equal(t, "4.72", summary.Rows[1].Rate)
}

func TestImportCommandApply(t *testing.T) {
	store := &stubQuoteStore{}
	cache := &stubBumper{}
	cli, err := NewFXOpsCLI(store, cache)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		Mode:   FXImportModeApply,
		Source: strings.NewReader(quotesCSV),
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Equal(t, 0, code)
	require.Len(t, store.quotes, 2)
	require.Equal(t, 1, cache.bumps)
	require.Contains(t, stdout.String(), "mode=apply rows=2 applied=2")
}

func TestImportCommandRejectsBadInput(t *testing.T) {
	cli, err := NewFXOpsCLI(&stubQuoteStore{}, nil)
	require.NoError(t, err)

	cases := map[string]string{
		"negative rate": "USD,MYR,-1,2024-03-01\n",
		"same pair":     "USD,usd,1,2024-03-01\n",
		"bad date":      "USD,MYR,4.7,01/03/2024\n",
		"empty":         "from,to,rate,effective_on\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			stderr := new(bytes.Buffer)
			code := cli.ImportCommand(context.Background(), FXImportOptions{
				Source: strings.NewReader(input),
				Stdout: new(bytes.Buffer),
				Stderr: stderr,
			})
			require.Equal(t, 1, code)
			require.Contains(t, stderr.String(), "fx import:")
		})
	}

	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{Mode: "force", Source: strings.NewReader(quotesCSV), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "invalid mode")
}

func TestImportCommandStoreFailure(t *testing.T) {
	cache := &stubBumper{}
	cli, err := NewFXOpsCLI(&stubQuoteStore{err: errors.New("db down")}, cache)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		Mode:   FXImportModeApply,
		Source: strings.NewReader(quotesCSV),
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "db down")
	require.Zero(t, cache.bumps)
}

type stubEnqueuer struct {
	integrity []jobs.LedgerIntegrityPayload
	recurring []jobs.RecurringPostPayload
	prune     []jobs.IdempotencyPrunePayload
}

func (s *stubEnqueuer) EnqueueLedgerIntegrity(_ context.Context, p jobs.LedgerIntegrityPayload) (*asynq.TaskInfo, error) {
	s.integrity = append(s.integrity, p)
	return &asynq.TaskInfo{Type: jobs.TaskLedgerIntegrity, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueRecurringPost(_ context.Context, p jobs.RecurringPostPayload) (*asynq.TaskInfo, error) {
	s.recurring = append(s.recurring, p)
	return &asynq.TaskInfo{Type: jobs.TaskRecurringPost, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueIdempotencyPrune(_ context.Context, p jobs.IdempotencyPrunePayload) (*asynq.TaskInfo, error) {
	s.prune = append(s.prune, p)
	return &asynq.TaskInfo{Type: jobs.TaskIdempotencyPrune, Queue: jobs.QueueDefault}, nil
}

func TestJobsTrigger(t *testing.T) {
	client := &stubEnqueuer{}
	cli := NewJobsCLI(client)

	info, err := cli.Trigger(context.Background(), jobs.TaskLedgerIntegrity, TriggerOptions{CompanyID: 7, From: "2024-01-01"})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, info.Type)
	require.Equal(t, []jobs.LedgerIntegrityPayload{{CompanyID: 7, From: "2024-01-01"}}, client.integrity)

	_, err = cli.Trigger(context.Background(), jobs.TaskRecurringPost, TriggerOptions{On: "2024-02-29"})
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", client.recurring[0].On)

	_, err = cli.Trigger(context.Background(), jobs.TaskIdempotencyPrune, TriggerOptions{Retention: 72 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 72, client.prune[0].RetentionHours)

	_, err = cli.Trigger(context.Background(), "inventory:revaluate", TriggerOptions{})
	require.ErrorContains(t, err, "unsupported job")

	_, err = NewJobsCLI(nil).Trigger(context.Background(), jobs.TaskRecurringPost, TriggerOptions{})
	require.Error(t, err)
}
