package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Repository reads quotes from exchange_rates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Rate returns the latest quote effective on or before on. When only the
// opposite pair is quoted its inverse is used.
func (r *Repository) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	from, to = money.Code(from), money.Code(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, err := r.latest(ctx, from, to, on)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, err
	}
	rate, err = r.latest(ctx, to, from, on)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s/%s on %s", ErrRateNotFound, from, to, on.Format(time.DateOnly))
		}
		return decimal.Zero, err
	}
	return invert(rate), nil
}

func (r *Repository) latest(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT rate::text FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND effective_on <= $3 AND rate > 0
ORDER BY effective_on DESC LIMIT 1`, from, to, on).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// UpsertQuote stores q, replacing any quote for the same pair and date.
func (r *Repository) UpsertQuote(ctx context.Context, q Quote) error {
	if !q.Rate.IsPositive() {
		return errors.New("fx: rate must be positive")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO exchange_rates (from_currency, to_currency, rate, effective_on)
VALUES ($1,$2,$3::numeric,$4)
ON CONFLICT (from_currency, to_currency, effective_on) DO UPDATE SET rate=EXCLUDED.rate`,
		money.Code(q.From), money.Code(q.To), q.Rate.String(), q.EffectiveOn)
	return err
}
