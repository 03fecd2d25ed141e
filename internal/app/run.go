package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/engine"
	"github.com/alanyoungcy/kalshibot/internal/feed"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
	"github.com/alanyoungcy/kalshibot/internal/notify"
	"github.com/alanyoungcy/kalshibot/internal/pipeline"
	"github.com/alanyoungcy/kalshibot/internal/risk"
	"github.com/alanyoungcy/kalshibot/internal/server"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
	"github.com/alanyoungcy/kalshibot/internal/server/ws"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

// shutdownTimeout bounds the graceful HTTP shutdown after the root context is
// cancelled.
const shutdownTimeout = 10 * time.Second

// The multi-channel notifier satisfies the engine's alert boundary directly;
// its Alert method types alerts into per-channel notifications and lets
// critical ones bypass the event filter.
var _ engine.Alerter = (*notify.Notifier)(nil)

// run builds the runtime components on top of the wired infrastructure and
// drives them under one errgroup until the context is cancelled.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	logger := a.logger

	// Strategies.
	tracker := strategy.NewMarketTracker(a.cfg.Strategy.SentimentEnsemble.MomentumWindow.Duration)
	registry, statArb := a.buildStrategies(ctx, deps, tracker)

	// Portfolio ledger.
	book := ledger.New(a.cfg.Portfolio.InitialCash, deps.Positions, deps.Trades, logger)
	if err := book.Load(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("app: load ledger: %w", err)
	}

	// Risk manager.
	riskMgr := risk.NewManager(domain.RiskLimits{
		MaxPortfolioExposure: a.cfg.Risk.MaxPortfolioExposure,
		MaxPositionSize:      a.cfg.Risk.MaxPositionSize,
		MaxOpenPositions:     a.cfg.Risk.MaxOpenPositions,
		MaxDailyTrades:       a.cfg.Risk.MaxDailyTrades,
		MaxDailyLoss:         a.cfg.Risk.MaxDailyLoss,
		StopLossEnabled:      a.cfg.Risk.StopLossEnabled,
		StopLossPct:          a.cfg.Risk.StopLossPct,
		MaxCorrelation:       a.cfg.Risk.MaxCorrelation,
		VaRConfidence:        a.cfg.Risk.VaRConfidence,
		WarnFraction:         a.cfg.Risk.WarnFraction,
	}, logger)

	// Data feeds.
	provider := feed.NewProvider(deps.PriceCache, deps.SentimentCache, deps.Markets, deps.Prices, deps.Venue, logger)
	marketFeed := feed.NewMarketFeed(deps.VenueWS, deps.PriceCache, deps.Prices, tracker, deps.Bus, logger)

	var sentimentFeed *feed.SentimentFeed
	if deps.SentimentAPI != nil {
		sentimentFeed = feed.NewSentimentFeed(
			deps.SentimentAPI,
			deps.SentimentCache,
			deps.Markets,
			a.cfg.Sentiment.PollInterval.Duration,
			a.cfg.Sentiment.Staleness.Duration,
			logger,
		)
	}

	// Trading engine.
	eng := engine.New(a.cfg.Engine, engine.Deps{
		Registry:        registry,
		Risk:            riskMgr,
		Ledger:          book,
		Exec:            deps.Exec,
		Markets:         deps.Markets,
		Sentiment:       provider,
		History:         provider,
		Groups:          deps.Groups,
		Orders:          deps.Orders,
		Signals:         deps.Signals,
		Cycles:          deps.Cycles,
		Snapshots:       deps.Snapshots,
		Pairs:           deps.Pairs,
		Trades:          deps.Trades,
		StatArb:         statArb,
		Locks:           deps.Locks,
		Bus:             deps.Bus,
		Notifier:        deps.Notifier,
		Metrics:         deps.Metrics,
		Logger:          logger,
		SentimentWindow: a.cfg.Sentiment.Staleness.Duration,
	})

	// Background pipeline: market sync and the daily archive/prune sweep.
	marketSync := pipeline.NewMarketSync(
		deps.Venue, deps.Markets, deps.Groups, deps.GroupCache, marketFeed, a.cfg.Markets, logger,
	)
	scheduler := pipeline.NewScheduler(marketSync, deps.Archiver, deps.Prices, a.cfg.Pipeline, logger)

	// Live event stream.
	hub := ws.NewHub(deps.Bus, eng, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(eng.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCancel(scheduler.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCancel(hub.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCancel(marketFeed.Run(ctx, a.watchTickers(ctx, deps)))
	})
	if sentimentFeed != nil {
		g.Go(func() error {
			return ignoreCancel(sentimentFeed.Run(ctx))
		})
	}

	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps, eng, registry, riskMgr, book, hub)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return ignoreCancel(g.Wait())
}

// buildStrategies registers the configured strategies and returns the registry
// plus the stat-arb instance when it is active (nil otherwise).
func (a *App) buildStrategies(ctx context.Context, deps *Dependencies, tracker *strategy.MarketTracker) (*strategy.Registry, *strategy.StatArb) {
	registry := strategy.NewRegistry()

	se := a.cfg.Strategy.SentimentEnsemble
	if se.Enabled && slices.Contains(a.cfg.Strategy.Active, strategy.NameSentimentEnsemble) {
		ensemble := strategy.NewSentimentEnsemble(strategy.SentimentParams{
			ModelWeights:        se.ModelWeights,
			ConfidenceThreshold: se.ConfidenceThreshold,
			SentimentThreshold:  se.SentimentThreshold,
			MomentumGain:        se.MomentumGain,
			MomentumDamp:        se.MomentumDamp,
			VolumeThreshold:     se.VolumeThreshold,
			ObservationWindow:   se.ObservationWindow.Duration,
		}, tracker, a.logger)
		registry.Register(ensemble, a.strategyWeight(strategy.NameSentimentEnsemble))
	}

	var statArb *strategy.StatArb
	sa := a.cfg.Strategy.StatArb
	if sa.Enabled && slices.Contains(a.cfg.Strategy.Active, strategy.NameStatArb) {
		statArb = strategy.NewStatArb(strategy.StatArbParams{
			MinCorrelation:   sa.MinCorrelation,
			ZScoreThreshold:  sa.ZScoreThreshold,
			ZScoreExit:       sa.ZScoreExit,
			Lookback:         time.Duration(sa.LookbackDays) * 24 * time.Hour,
			MinDataPoints:    sa.MinDataPoints,
			MaxPairs:         sa.MaxPairs,
			ProbSumThreshold: sa.ProbSumThreshold,
		}, a.logger)

		// A restart must not lose the qualified pair book.
		pairs, err := deps.Pairs.ListQualified(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "pair book seed failed", slog.String("error", err.Error()))
		} else {
			statArb.SeedPairs(pairs)
		}
		registry.Register(statArb, a.strategyWeight(strategy.NameStatArb))
	}

	registry.Each(func(s strategy.SignalStrategy, _ float64) {
		if err := s.Init(ctx); err != nil {
			a.logger.WarnContext(ctx, "strategy init failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	})

	return registry, statArb
}

// strategyWeight returns the configured capital allocation weight for a
// strategy, defaulting to 1 when none is set.
func (a *App) strategyWeight(name string) float64 {
	if w, ok := a.cfg.Strategy.Weights[name]; ok && w > 0 {
		return w
	}
	return 1
}

// buildServer assembles the HTTP handlers and the API server.
func (a *App) buildServer(
	deps *Dependencies,
	eng *engine.Engine,
	registry *strategy.Registry,
	riskMgr *risk.Manager,
	book *ledger.Ledger,
	hub *ws.Hub,
) *server.Server {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Engine:    handler.NewEngineHandler(eng, a.logger),
		Portfolio: handler.NewPortfolioHandler(book, deps.Positions, deps.Trades, a.logger),
		Markets:   handler.NewMarketHandler(deps.Markets, deps.Prices, a.logger),
		Signals:   handler.NewSignalHandler(deps.Signals, deps.Cycles, deps.Orders, a.logger),
		Risk:      handler.NewRiskHandler(riskMgr, deps.Snapshots, a.logger),
		Strategy:  handler.NewStrategyHandler(registry, deps.StratCfg, deps.Pairs, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	var metricsHandler = deps.Metrics.Handler()
	if !a.cfg.Server.MetricsEnabled {
		metricsHandler = nil
	}

	return server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.ApiKey,
		RateLimitPerIP: a.cfg.Server.RateLimitPerIP,
	}, handlers, hub, metricsHandler, deps.RateLimiter, a.logger)
}

// watchTickers returns the tickers the market feed subscribes to at startup.
// The market sync adds newly discovered markets later.
func (a *App) watchTickers(ctx context.Context, deps *Dependencies) []string {
	markets, err := deps.Markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		a.logger.WarnContext(ctx, "initial ticker list failed", slog.String("error", err.Error()))
		return nil
	}
	tickers := make([]string, 0, len(markets))
	for _, m := range markets {
		tickers = append(tickers, m.ID)
	}
	return tickers
}

// ignoreCancel maps context cancellation to a clean exit so a normal shutdown
// does not surface as an error.
func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
