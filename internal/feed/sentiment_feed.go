package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/platform/sentiment"
)

// sentimentKeepPerMarket bounds the cached observation history per market.
const sentimentKeepPerMarket = 500

// SentimentFeed polls the sentiment-scores API on a fixed interval and
// appends fresh observations to the sentiment cache.
type SentimentFeed struct {
	client      *sentiment.Client
	cache       domain.SentimentCache
	marketStore domain.MarketStore
	interval    time.Duration
	staleness   time.Duration
	logger      *slog.Logger
}

// NewSentimentFeed creates a SentimentFeed. interval controls the polling
// cadence; observations older than staleness are not requested.
func NewSentimentFeed(
	client *sentiment.Client,
	cache domain.SentimentCache,
	marketStore domain.MarketStore,
	interval, staleness time.Duration,
	logger *slog.Logger,
) *SentimentFeed {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleness <= 0 {
		staleness = 30 * time.Minute
	}
	return &SentimentFeed{
		client:      client,
		cache:       cache,
		marketStore: marketStore,
		interval:    interval,
		staleness:   staleness,
		logger:      logger.With(slog.String("component", "sentiment_feed")),
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so the engine has data on its first cycle.
func (f *SentimentFeed) Run(ctx context.Context) error {
	f.logger.Info("sentiment feed started", slog.Duration("interval", f.interval))
	defer f.logger.Info("sentiment feed stopped")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *SentimentFeed) poll(ctx context.Context) {
	markets, err := f.marketStore.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		f.logger.Warn("sentiment poll list markets failed", slog.String("error", err.Error()))
		return
	}
	if len(markets) == 0 {
		return
	}

	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}

	since := time.Now().Add(-f.staleness)
	batch, err := f.client.FetchBatch(ctx, ids, since)
	if err != nil {
		f.logger.Warn("sentiment poll fetch failed", slog.String("error", err.Error()))
		return
	}

	var stored int
	for marketID, observations := range batch {
		for _, obs := range observations {
			if err := f.cache.Append(ctx, obs); err != nil {
				f.logger.Warn("sentiment cache append failed",
					slog.String("market_id", marketID),
					slog.String("error", err.Error()),
				)
				continue
			}
			stored++
		}
		if err := f.cache.Trim(ctx, marketID, sentimentKeepPerMarket); err != nil {
			f.logger.Debug("sentiment cache trim failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	f.logger.Debug("sentiment poll complete",
		slog.Int("markets", len(ids)),
		slog.Int("observations", stored),
	)
}
