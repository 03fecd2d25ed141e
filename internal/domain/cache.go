package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, yes, no float64, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (yes, no float64, ts time.Time, err error)
	GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error)
}

// SentimentCache stores recent sentiment observations per market.
type SentimentCache interface {
	Append(ctx context.Context, obs SentimentObservation) error
	Recent(ctx context.Context, marketID string, since time.Time) ([]SentimentObservation, error)
	Trim(ctx context.Context, marketID string, keep int) error
}

// EventGroupCache provides fast event-group membership lookups.
type EventGroupCache interface {
	Set(ctx context.Context, group EventGroup, marketIDs []string) error
	Get(ctx context.Context, id string) (EventGroup, []string, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking; the engine holds a leader lock so
// at most one instance trades a portfolio.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for engine events:
// signals, dispositions, fills, alerts, and state changes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
