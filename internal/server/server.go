// Package server exposes the HTTP and WebSocket control surface: engine
// lifecycle, portfolio and signal inspection, risk configuration, and a live
// event stream bridged from the signal bus.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
	"github.com/alanyoungcy/kalshibot/internal/server/middleware"
	"github.com/alanyoungcy/kalshibot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // empty disables authentication
	RateLimitPerIP int    // requests per second per client IP; zero disables
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Engine    *handler.EngineHandler
	Portfolio *handler.PortfolioHandler
	Markets   *handler.MarketHandler
	Signals   *handler.SignalHandler
	Risk      *handler.RiskHandler
	Strategy  *handler.StrategyHandler
	Archives  *handler.ArchiveHandler // nil when cold storage is not configured
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. metricsHandler may
// be nil to disable the Prometheus endpoint; rateLimiter may be nil to
// disable per-IP limiting.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	metricsHandler http.Handler,
	rateLimiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine lifecycle.
	mux.HandleFunc("GET /api/engine/status", handlers.Engine.GetStatus)
	mux.HandleFunc("POST /api/engine/start", handlers.Engine.Start)
	mux.HandleFunc("POST /api/engine/stop", handlers.Engine.Stop)
	mux.HandleFunc("POST /api/engine/trading/enable", handlers.Engine.EnableTrading)
	mux.HandleFunc("POST /api/engine/trading/disable", handlers.Engine.DisableTrading)
	mux.HandleFunc("POST /api/engine/emergency-stop", handlers.Engine.EmergencyStop)
	mux.HandleFunc("POST /api/engine/restart", handlers.Engine.Restart)
	mux.HandleFunc("POST /api/engine/cycle", handlers.Engine.TriggerCycle)

	// Portfolio, positions, and trades.
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/positions", handlers.Portfolio.ListPositions)
	mux.HandleFunc("GET /api/positions/history", handlers.Portfolio.ListPositionHistory)
	mux.HandleFunc("GET /api/trades", handlers.Portfolio.ListTrades)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.Markets.GetMarketHistory)

	// Signal audit trail and cycles.
	mux.HandleFunc("GET /api/signals", handlers.Signals.ListSignals)
	mux.HandleFunc("GET /api/cycles", handlers.Signals.ListCycles)
	mux.HandleFunc("GET /api/cycles/latest", handlers.Signals.GetLatestCycle)
	mux.HandleFunc("GET /api/cycles/{id}", handlers.Signals.GetCycle)
	mux.HandleFunc("GET /api/orders/unresolved", handlers.Signals.ListUnresolvedOrders)

	// Risk.
	mux.HandleFunc("GET /api/risk/limits", handlers.Risk.GetLimits)
	mux.HandleFunc("PUT /api/risk/limits", handlers.Risk.UpdateLimits)
	mux.HandleFunc("GET /api/risk/snapshots", handlers.Risk.ListSnapshots)
	mux.HandleFunc("GET /api/risk/snapshots/latest", handlers.Risk.GetLatestSnapshot)

	// Strategies and pairs.
	mux.HandleFunc("GET /api/strategies", handlers.Strategy.ListStrategies)
	mux.HandleFunc("GET /api/strategies/configs", handlers.Strategy.ListConfigs)
	mux.HandleFunc("GET /api/strategies/configs/{name}", handlers.Strategy.GetConfig)
	mux.HandleFunc("PUT /api/strategies/configs/{name}", handlers.Strategy.UpdateConfig)
	mux.HandleFunc("GET /api/pairs", handlers.Strategy.ListPairs)

	// Cold-storage archive listing.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	// Prometheus metrics (no auth, scraped internally).
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Live event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first: auth, then logging, rate limiting,
	// and CORS on the outside so preflights never hit auth.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	if rateLimiter != nil && cfg.RateLimitPerIP > 0 {
		h = middleware.RateLimit(rateLimiter, cfg.RateLimitPerIP, time.Second)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
