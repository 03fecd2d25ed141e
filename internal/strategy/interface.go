// Package strategy contains the signal-generating strategies evaluated each
// trading cycle. Strategies are pure with respect to portfolio state: they
// read the cycle's market view and return proposed signals, and never submit
// orders or mutate the ledger themselves.
package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// HistorySource supplies historical price series for a market. The feed
// provider implements this against the price store and cache.
type HistorySource interface {
	History(ctx context.Context, marketID string, lookback time.Duration) ([]domain.PricePoint, error)
}

// MarketView is the immutable snapshot a strategy analyzes during one cycle.
// The engine assembles it once per cycle and hands the same view to every
// active strategy.
type MarketView struct {
	CycleID string
	Now     time.Time

	// Markets are the tradable markets in the configured universe.
	Markets []domain.Market

	// Sentiment maps market ID to recent observations, oldest first.
	Sentiment map[string][]domain.SentimentObservation

	// Positions maps market ID to open positions in that market.
	Positions map[string][]domain.Position

	// Groups maps event group ID to member markets, for groups whose
	// outcomes are mutually exclusive.
	Groups map[string][]domain.Market

	// History fetches price series on demand.
	History HistorySource
}

// Market returns the market with the given ID from the view, if present.
func (v MarketView) Market(id string) (domain.Market, bool) {
	for _, m := range v.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}

// OpenPosition returns the first open position for the market held by the
// named strategy, if any.
func (v MarketView) OpenPosition(marketID, strategy string) (domain.Position, bool) {
	for _, p := range v.Positions[marketID] {
		if p.Strategy == strategy && p.Status == domain.PositionOpen {
			return p, true
		}
	}
	return domain.Position{}, false
}

// SignalStrategy defines the contract for trading strategies.
type SignalStrategy interface {
	Name() string
	Init(ctx context.Context) error

	// Analyze evaluates one cycle's view and returns zero or more proposed
	// signals. Returned signals carry no order sizing; the engine and risk
	// manager decide quantities.
	Analyze(ctx context.Context, view MarketView) ([]domain.Signal, error)

	Close() error
}
