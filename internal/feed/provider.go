package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

// Provider is the engine's read side for market data and sentiment. Reads go
// cache first, then the store, then the venue REST API as a last resort.
type Provider struct {
	priceCache     domain.PriceCache
	sentimentCache domain.SentimentCache
	marketStore    domain.MarketStore
	priceStore     domain.PriceStore
	venue          *kalshi.Client
	logger         *slog.Logger
}

// NewProvider creates a Provider. venue may be nil, disabling REST fallback.
func NewProvider(
	priceCache domain.PriceCache,
	sentimentCache domain.SentimentCache,
	marketStore domain.MarketStore,
	priceStore domain.PriceStore,
	venue *kalshi.Client,
	logger *slog.Logger,
) *Provider {
	return &Provider{
		priceCache:     priceCache,
		sentimentCache: sentimentCache,
		marketStore:    marketStore,
		priceStore:     priceStore,
		venue:          venue,
		logger:         logger.With(slog.String("component", "feed_provider")),
	}
}

// Snapshot returns the current view of one market: store metadata overlaid
// with the freshest cached price. When neither cache nor store knows the
// market, the venue REST API is consulted.
func (p *Provider) Snapshot(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := p.marketStore.GetByID(ctx, marketID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) || p.venue == nil {
			return domain.Market{}, err
		}
		dto, restErr := p.venue.GetMarket(ctx, marketID)
		if restErr != nil {
			return domain.Market{}, restErr
		}
		m = dto.ToDomain(time.Now().UTC())
	}

	yes, no, ts, err := p.priceCache.GetPrice(ctx, marketID)
	if err == nil && yes > 0 {
		m.YesPrice = yes
		m.NoPrice = no
		if ts.After(m.ObservedAt) {
			m.ObservedAt = ts
		}
	}

	return m, nil
}

// History returns a market's price points over the trailing lookback window,
// oldest first. When the store has nothing, the venue's candlestick API fills
// the gap.
func (p *Provider) History(ctx context.Context, marketID string, lookback time.Duration) ([]domain.PricePoint, error) {
	since := time.Now().Add(-lookback)

	points, err := p.priceStore.History(ctx, marketID, since)
	if err != nil {
		return nil, err
	}
	if len(points) > 0 || p.venue == nil {
		return points, nil
	}

	candles, err := p.venue.GetCandlesticks(ctx, marketID, since.Unix(), time.Now().Unix(), 60)
	if err != nil {
		p.logger.Debug("candlestick fallback failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return points, nil
	}

	backfill := make([]domain.PricePoint, 0, len(candles))
	for _, c := range candles {
		backfill = append(backfill, c.ToPricePoint(marketID))
	}
	if len(backfill) > 0 {
		if err := p.priceStore.InsertBatch(ctx, backfill); err != nil {
			p.logger.Debug("candlestick backfill store failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return backfill, nil
}

// Observations returns cached sentiment observations for a market at or
// after since, oldest first.
func (p *Provider) Observations(ctx context.Context, marketID string, since time.Time) ([]domain.SentimentObservation, error) {
	return p.sentimentCache.Recent(ctx, marketID, since)
}

// Compile-time interface checks.
var (
	_ domain.MarketDataFeed  = (*Provider)(nil)
	_ domain.SentimentSource = (*Provider)(nil)
	_ strategy.HistorySource = (*Provider)(nil)
)
