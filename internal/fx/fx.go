// Package fx supplies exchange rates to the allocation engine.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// ErrRateNotFound indicates no quote covers the pair on the date.
var ErrRateNotFound = fmt.Errorf("fx: rate not found: %w", ledger.ErrMissingExchangeRate)

// inversePrecision bounds the scale of rates derived from the opposite quote.
const inversePrecision = 10

// Source resolves the rate converting one unit of from into to.
type Source interface {
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}

// Quote is a dated exchange rate.
type Quote struct {
	From        string
	To          string
	Rate        decimal.Decimal
	EffectiveOn time.Time
}

// Quotes is a fixed rate table keyed by FROM+TO, e.g. "USDMYR".
type Quotes map[string]decimal.Decimal

// Rate implements Source, ignoring the date.
func (q Quotes) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	from, to = money.Code(from), money.Code(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := q[from+to]; ok && rate.IsPositive() {
		return rate, nil
	}
	if rate, ok := q[to+from]; ok && rate.IsPositive() {
		return invert(rate), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateNotFound, from, to)
}

func invert(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(rate, inversePrecision)
}
