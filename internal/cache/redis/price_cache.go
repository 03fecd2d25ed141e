package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// latest prices are stored as a hash at key "price:{marketID}" with fields
// "yes", "no", and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps prices until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetPrice stores the latest yes/no prices and timestamp for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, yes, no float64, ts time.Time) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(no, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest yes/no prices and timestamp for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID string) (yes, no float64, ts time.Time, err error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	yes, err = parseHashFloat(vals, "yes", marketID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	no, err = parseHashFloat(vals, "no", marketID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return yes, no, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest YES prices for multiple markets using a
// pipeline. Markets whose keys do not exist are silently omitted from the
// result map.
func (pc *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	if len(marketIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGet(ctx, priceKey(id), "yes")
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(marketIDs))
	for id, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		result[id] = price
	}

	return result, nil
}

func parseHashFloat(vals map[string]string, field, marketID string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse %s price %s: %w", field, marketID, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
