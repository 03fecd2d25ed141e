package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
)

// syncPageSize is the venue pagination size for market and event listings.
const syncPageSize = 100

// TickerSubscriber adds tickers to a live price subscription. The websocket
// market feed satisfies this.
type TickerSubscriber interface {
	Subscribe(ctx context.Context, tickers []string) error
}

// MarketSync keeps the local market universe in step with the venue. Each run
// paginates the venue's open markets, filters them down to the configured
// watchlist or categories, upserts the survivors, and refreshes event groups
// and their market links.
type MarketSync struct {
	venue      *kalshi.Client
	markets    domain.MarketStore
	groups     domain.EventGroupStore
	groupCache domain.EventGroupCache
	feed       TickerSubscriber
	selection  config.MarketsConfig
	logger     *slog.Logger

	// tickers already pushed to the live feed, so re-runs only subscribe new ones
	subscribed map[string]struct{}
}

// NewMarketSync creates a MarketSync. groupCache and feed may be nil; the
// corresponding refresh steps are then skipped.
func NewMarketSync(
	venue *kalshi.Client,
	markets domain.MarketStore,
	groups domain.EventGroupStore,
	groupCache domain.EventGroupCache,
	feed TickerSubscriber,
	selection config.MarketsConfig,
	logger *slog.Logger,
) *MarketSync {
	return &MarketSync{
		venue:      venue,
		markets:    markets,
		groups:     groups,
		groupCache: groupCache,
		feed:       feed,
		selection:  selection,
		logger:     logger.With(slog.String("component", "market_sync")),
		subscribed: make(map[string]struct{}),
	}
}

// Run executes a single sync pass: events first so market links have a parent
// row, then markets.
func (s *MarketSync) Run(ctx context.Context) error {
	if err := s.syncEvents(ctx); err != nil {
		return fmt.Errorf("pipeline: event sync: %w", err)
	}
	if err := s.syncMarkets(ctx); err != nil {
		return fmt.Errorf("pipeline: market sync: %w", err)
	}
	return nil
}

// RunLoop runs the sync on a repeating interval until the context is
// cancelled. The first pass happens immediately.
func (s *MarketSync) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := s.Run(ctx); err != nil {
		s.logger.Error("market sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("market sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *MarketSync) syncEvents(ctx context.Context) error {
	cursor := ""
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, next, err := s.venue.GetEvents(ctx, syncPageSize, cursor)
		if err != nil {
			return fmt.Errorf("fetching events at cursor %q: %w", cursor, err)
		}
		if len(events) == 0 {
			break
		}

		for i := range events {
			g := events[i].ToDomain()
			if err := s.groups.Upsert(ctx, g); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("event group upsert failed",
						slog.String("group_id", g.ID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if s.groupCache != nil {
				if err := s.groupCache.Invalidate(ctx, g.ID); err != nil {
					s.logger.Debug("event group cache invalidate failed",
						slog.String("group_id", g.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}

		total += len(events)
		if next == "" || len(events) < syncPageSize {
			break
		}
		cursor = next
	}

	s.logger.Debug("event sync complete", slog.Int("total", total))
	return nil
}

func (s *MarketSync) syncMarkets(ctx context.Context) error {
	now := time.Now().UTC()
	cursor := ""
	kept := 0
	scanned := 0
	var newTickers []string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, next, err := s.venue.GetMarkets(ctx, syncPageSize, cursor, "open")
		if err != nil {
			return fmt.Errorf("fetching markets at cursor %q: %w", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)

		batch := make([]domain.Market, 0, len(page))
		for i := range page {
			m := page[i].ToDomain(now)
			if !s.selected(m) {
				continue
			}
			batch = append(batch, m)
			if _, ok := s.subscribed[m.ID]; !ok {
				newTickers = append(newTickers, m.ID)
			}
			if s.selection.MaxMarkets > 0 && kept+len(batch) >= s.selection.MaxMarkets {
				next = ""
				break
			}
		}

		if len(batch) > 0 {
			if err := s.markets.UpsertBatch(ctx, batch); err != nil {
				return fmt.Errorf("upserting %d markets: %w", len(batch), err)
			}
			s.linkEventMarkets(ctx, batch)
			kept += len(batch)
		}

		if next == "" || len(page) < syncPageSize {
			break
		}
		cursor = next
	}

	if s.feed != nil && len(newTickers) > 0 {
		if err := s.feed.Subscribe(ctx, newTickers); err != nil {
			s.logger.Warn("feed subscribe failed",
				slog.Int("tickers", len(newTickers)),
				slog.String("error", err.Error()),
			)
		} else {
			for _, t := range newTickers {
				s.subscribed[t] = struct{}{}
			}
		}
	}

	s.logger.Info("market sync complete",
		slog.Int("scanned", scanned),
		slog.Int("kept", kept),
		slog.Int("new_subscriptions", len(newTickers)),
	)
	return nil
}

// linkEventMarkets records the market-to-event-group membership rows. Link
// failures are logged and skipped; the next sync pass retries them.
func (s *MarketSync) linkEventMarkets(ctx context.Context, markets []domain.Market) {
	for _, m := range markets {
		if m.EventID == "" {
			continue
		}
		if err := s.groups.LinkMarket(ctx, m.EventID, m.ID); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Debug("event group link failed",
					slog.String("group_id", m.EventID),
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// selected applies the configured market universe filter. An explicit ticker
// watchlist wins over categories; with neither set, everything passes.
func (s *MarketSync) selected(m domain.Market) bool {
	if len(s.selection.Tickers) > 0 {
		return slices.Contains(s.selection.Tickers, m.ID)
	}
	if len(s.selection.Categories) > 0 {
		return slices.Contains(s.selection.Categories, m.Category)
	}
	return true
}
