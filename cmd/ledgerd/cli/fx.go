package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// QuoteStore persists exchange-rate quotes.
type QuoteStore interface {
	UpsertQuote(ctx context.Context, q fx.Quote) error
}

// CacheBumper invalidates cached rates after an import.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry parses and reports without writing.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists the parsed quotes.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the import command.
type FXImportOptions struct {
	Mode       FXImportMode
	Source     io.Reader
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXImportRow is a parsed CSV row.
type FXImportRow struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Rate        string `json:"rate"`
	EffectiveOn string `json:"effective_on"`
}

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode    FXImportMode  `json:"mode"`
	Rows    []FXImportRow `json:"rows"`
	Applied int           `json:"applied"`
}

// FXOpsCLI offers operational helpers to manage exchange rates.
type FXOpsCLI struct {
	store QuoteStore
	cache CacheBumper
}

// NewFXOpsCLI constructs a new helper instance. cache may be nil.
func NewFXOpsCLI(store QuoteStore, cache CacheBumper) (*FXOpsCLI, error) {
	if store == nil {
		return nil, errors.New("fx cli: quote store required")
	}
	return &FXOpsCLI{store: store, cache: cache}, nil
}

// ImportCommand reads from,to,rate,effective_on rows and stores them in apply mode.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	if opts.Source == nil {
		fmt.Fprintln(opts.Stderr, "fx import: source required")
		return 1
	}

	quotes, err := parseQuotes(opts.Source)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}

	summary := FXImportSummary{Mode: mode, Rows: make([]FXImportRow, 0, len(quotes))}
	for _, q := range quotes {
		summary.Rows = append(summary.Rows, FXImportRow{
			From:        q.From,
			To:          q.To,
			Rate:        q.Rate.String(),
			EffectiveOn: q.EffectiveOn.Format(time.DateOnly),
		})
	}

	if mode == FXImportModeApply {
		for _, q := range quotes {
			if err := c.store.UpsertQuote(ctx, q); err != nil {
				fmt.Fprintf(opts.Stderr, "fx import: store %s/%s %s: %v\n", q.From, q.To, q.EffectiveOn.Format(time.DateOnly), err)
				return 1
			}
			summary.Applied++
		}
		if c.cache != nil && summary.Applied > 0 {
			if err := c.cache.Bump(ctx); err != nil {
				fmt.Fprintf(opts.Stderr, "fx import: invalidate cache: %v\n", err)
				return 1
			}
		}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: encode output: %v\n", err)
			return 1
		}
		return 0
	}
	for _, row := range summary.Rows {
		fmt.Fprintf(opts.Stdout, "%s %s/%s %s\n", row.EffectiveOn, row.From, row.To, row.Rate)
	}
	fmt.Fprintf(opts.Stdout, "mode=%s rows=%d applied=%d\n", summary.Mode, len(summary.Rows), summary.Applied)
	return 0
}

func parseQuotes(r io.Reader) ([]fx.Quote, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	quotes := make([]fx.Quote, 0, len(records))
	for i, rec := range records {
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "from") {
			continue
		}
		from, to := money.Code(rec[0]), money.Code(rec[1])
		if from == "" || to == "" || from == to {
			return nil, fmt.Errorf("line %d: invalid pair %q/%q", i+1, rec[0], rec[1])
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("line %d: invalid rate %q", i+1, rec[2])
		}
		on, err := time.Parse(time.DateOnly, strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q (expected YYYY-MM-DD)", i+1, rec[3])
		}
		quotes = append(quotes, fx.Quote{From: from, To: to, Rate: rate, EffectiveOn: on})
	}
	if len(quotes) == 0 {
		return nil, errors.New("no quotes found")
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].EffectiveOn.Before(quotes[j].EffectiveOn)
	})
	return quotes, nil
}
