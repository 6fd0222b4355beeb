package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

const cacheVersionKey = "fx:version"

// CachedProvider fronts a Source with versioned redis keys. Concurrent misses
// for the same key share one load.
type CachedProvider struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedProvider wraps source. A nil client disables caching.
func NewCachedProvider(source Source, client *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{source: source, client: client, ttl: ttl}
}

// Rate implements Source.
func (c *CachedProvider) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	if c.source == nil {
		return decimal.Zero, errors.New("fx: source not configured")
	}
	from, to = money.Code(from), money.Code(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if c.client == nil {
		return c.source.Rate(ctx, from, to, on)
	}
	key, err := c.key(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decimal.NewFromString(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return decimal.Zero, err
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		rate, err := c.source.Rate(ctx, from, to, on)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
			return nil, err
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return val.(decimal.Decimal), nil
}

// Bump invalidates every cached rate.
func (c *CachedProvider) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *CachedProvider) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

func (c *CachedProvider) key(ctx context.Context, from, to string, on time.Time) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", strings.Join([]string{"fx", "rate", from, to, on.Format(time.DateOnly)}, ":"), ver), nil
}
