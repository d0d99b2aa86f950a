package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// pair's price is stored at key "price:{pairKey}" with fields
// "mantissa", "scale" and "ts" (Unix nanosecond timestamp). Prices are
// stored exactly, never as floats.
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(pairKey string) string {
	return "price:" + pairKey
}

// SetPrice stores the latest price and timestamp for a pair.
func (pc *PriceCache) SetPrice(ctx context.Context, pairKey string, price domain.Amount, ts time.Time) error {
	fields := map[string]interface{}{
		"mantissa": price.Mantissa(),
		"scale":    strconv.FormatInt(int64(price.Scale()), 10),
		"ts":       strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(pairKey), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pairKey, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a pair. It
// returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, pairKey string) (domain.Amount, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pairKey)).Result()
	if err != nil {
		return domain.Amount{}, time.Time{}, fmt.Errorf("redis: get price %s: %w", pairKey, err)
	}
	if len(vals) == 0 {
		return domain.Amount{}, time.Time{}, domain.ErrNotFound
	}

	mantissa, ok := vals["mantissa"]
	if !ok {
		return domain.Amount{}, time.Time{}, domain.ErrNotFound
	}
	scale, err := strconv.ParseInt(vals["scale"], 10, 32)
	if err != nil {
		return domain.Amount{}, time.Time{}, fmt.Errorf("redis: parse price scale %s: %w", pairKey, err)
	}
	price, err := domain.NewAmount(mantissa, int32(scale))
	if err != nil {
		return domain.Amount{}, time.Time{}, fmt.Errorf("redis: parse price %s: %w", pairKey, err)
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Amount{}, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", pairKey, err)
	}
	return price, time.Unix(0, tsNano), nil
}
