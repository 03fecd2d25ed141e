package domain

import (
	"context"
	"time"
)

// MarketDataFeed supplies market snapshots and price history. Implementations
// have no mutation capability; the engine and strategies only read.
type MarketDataFeed interface {
	Snapshot(ctx context.Context, marketID string) (Market, error)
	History(ctx context.Context, marketID string, window time.Duration) ([]PricePoint, error)
}

// SentimentSource supplies per-market sentiment observations.
type SentimentSource interface {
	Observations(ctx context.Context, marketID string, since time.Time) ([]SentimentObservation, error)
}

// ExecutionClient is the venue boundary. Submission errors and timeouts are
// equivalent: the caller polls Status until the order resolves and never
// assumes non-execution.
type ExecutionClient interface {
	Submit(ctx context.Context, order Order) (OrderAck, error)
	Status(ctx context.Context, venueOrderID string) (OrderStatusResult, error)
	Cancel(ctx context.Context, venueOrderID string) error
	Balance(ctx context.Context) (float64, error)
}
