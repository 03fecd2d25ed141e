// Package feed moves market data and sentiment between the venue, the caches,
// and the engine's read-side interfaces.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

// priceChannel is the Redis Pub/Sub channel live price updates fan out on.
const priceChannel = "prices"

// priceEvent is the JSON shape published to the price channel.
type priceEvent struct {
	MarketID string    `json:"market_id"`
	YesPrice float64   `json:"yes_price"`
	Volume   float64   `json:"volume"`
	At       time.Time `json:"at"`
}

// MarketFeed consumes the venue's ticker WebSocket stream and fans each
// update out to the price cache, the price history store, the in-memory
// tracker, and the Pub/Sub channel.
type MarketFeed struct {
	ws         *kalshi.WSClient
	priceCache domain.PriceCache
	priceStore domain.PriceStore
	tracker    *strategy.MarketTracker
	bus        domain.SignalBus
	logger     *slog.Logger

	updates chan kalshi.KalshiWSTicker
}

// NewMarketFeed creates a MarketFeed. Any of priceStore, tracker, or bus may
// be nil; the corresponding fan-out is skipped.
func NewMarketFeed(
	ws *kalshi.WSClient,
	priceCache domain.PriceCache,
	priceStore domain.PriceStore,
	tracker *strategy.MarketTracker,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketFeed {
	f := &MarketFeed{
		ws:         ws,
		priceCache: priceCache,
		priceStore: priceStore,
		tracker:    tracker,
		bus:        bus,
		logger:     logger.With(slog.String("component", "market_feed")),
		updates:    make(chan kalshi.KalshiWSTicker, 256),
	}

	ws.OnTicker(func(t kalshi.KalshiWSTicker) {
		select {
		case f.updates <- t:
		default:
			// Drop under backpressure; the next tick supersedes this one.
		}
	})

	return f
}

// Run connects the WebSocket, subscribes to the given tickers, and processes
// updates until the context is cancelled.
func (f *MarketFeed) Run(ctx context.Context, tickers []string) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	if len(tickers) > 0 {
		if err := f.ws.Subscribe(ctx, tickers); err != nil {
			return err
		}
	}

	f.logger.Info("market feed started", slog.Int("tickers", len(tickers)))
	defer f.logger.Info("market feed stopped")
	defer f.ws.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-f.updates:
			f.handleTicker(ctx, t)
		}
	}
}

// Subscribe adds tickers to the live subscription, e.g. after a market sync
// discovers new markets.
func (f *MarketFeed) Subscribe(ctx context.Context, tickers []string) error {
	return f.ws.Subscribe(ctx, tickers)
}

func (f *MarketFeed) handleTicker(ctx context.Context, t kalshi.KalshiWSTicker) {
	point := t.ToPricePoint()
	if point.MarketID == "" || point.YesPrice <= 0 {
		return
	}
	no := 1 - point.YesPrice

	if err := f.priceCache.SetPrice(ctx, point.MarketID, point.YesPrice, no, point.At); err != nil {
		f.logger.Warn("price cache update failed",
			slog.String("market_id", point.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if f.priceStore != nil {
		if err := f.priceStore.Insert(ctx, point); err != nil {
			f.logger.Warn("price history insert failed",
				slog.String("market_id", point.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.tracker != nil {
		f.tracker.Track(point.MarketID, point.YesPrice, point.Volume, point.At)
	}

	if f.bus != nil {
		payload, err := json.Marshal(priceEvent{
			MarketID: point.MarketID,
			YesPrice: point.YesPrice,
			Volume:   point.Volume,
			At:       point.At,
		})
		if err == nil {
			if err := f.bus.Publish(ctx, priceChannel, payload); err != nil {
				f.logger.Debug("price publish failed",
					slog.String("market_id", point.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
