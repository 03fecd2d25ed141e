package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// sentimentTTL bounds how long an idle market's observation list survives.
const sentimentTTL = 24 * time.Hour

// SentimentCache implements domain.SentimentCache using Redis sorted sets.
// Observations are JSON members at key "sentiment:{marketID}", scored by
// their observation time in Unix nanoseconds, so range reads come back in
// chronological order.
type SentimentCache struct {
	rdb *redis.Client
}

// NewSentimentCache creates a SentimentCache backed by the given Client.
func NewSentimentCache(c *Client) *SentimentCache {
	return &SentimentCache{rdb: c.Underlying()}
}

func sentimentKey(marketID string) string {
	return "sentiment:" + marketID
}

// Append stores one observation for its market.
func (sc *SentimentCache) Append(ctx context.Context, obs domain.SentimentObservation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("redis: marshal observation %s/%s: %w", obs.MarketID, obs.Model, err)
	}

	key := sentimentKey(obs.MarketID)
	pipe := sc.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(obs.ObservedAt.UnixNano()),
		Member: data,
	})
	pipe.Expire(ctx, key, sentimentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append observation %s: %w", obs.MarketID, err)
	}
	return nil
}

// Recent returns observations at or after since, oldest first. A market with
// no stored observations yields an empty slice, not an error.
func (sc *SentimentCache) Recent(ctx context.Context, marketID string, since time.Time) ([]domain.SentimentObservation, error) {
	min := strconv.FormatInt(since.UnixNano(), 10)
	members, err := sc.rdb.ZRangeByScore(ctx, sentimentKey(marketID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent observations %s: %w", marketID, err)
	}

	out := make([]domain.SentimentObservation, 0, len(members))
	for _, m := range members {
		var obs domain.SentimentObservation
		if err := json.Unmarshal([]byte(m), &obs); err != nil {
			// A corrupt entry is dropped, not fatal.
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Trim keeps only the newest keep observations for a market.
func (sc *SentimentCache) Trim(ctx context.Context, marketID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	if err := sc.rdb.ZRemRangeByRank(ctx, sentimentKey(marketID), 0, int64(-keep-1)).Err(); err != nil {
		return fmt.Errorf("redis: trim observations %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SentimentCache = (*SentimentCache)(nil)
