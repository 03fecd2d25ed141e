// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALBOT_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Risk      RiskConfig      `toml:"risk"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Engine    EngineConfig    `toml:"engine"`
	Markets   MarketsConfig   `toml:"markets"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds the execution venue's API endpoints and credentials.
type KalshiConfig struct {
	BaseURL           string   `toml:"base_url"`
	WsURL             string   `toml:"ws_url"`
	ApiKeyID          string   `toml:"api_key_id"`
	RsaPrivateKeyPath string   `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	RequestTimeout    duration `toml:"request_timeout"`
	RateLimitPerSec   int      `toml:"rate_limit_per_sec"`
}

// SentimentConfig holds the sentiment-scores API parameters.
type SentimentConfig struct {
	BaseURL      string   `toml:"base_url"`
	ApiKey       string   `toml:"api_key"`
	PollInterval duration `toml:"poll_interval"`
	Staleness    duration `toml:"staleness"` // observations older than this are ignored
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PortfolioConfig holds ledger bootstrap parameters.
type PortfolioConfig struct {
	InitialCash float64 `toml:"initial_cash"`
	FeePerTrade float64 `toml:"fee_per_trade"` // flat fee per contract, dollars
}

// RiskConfig holds the portfolio risk limits. The limits are read-only to the
// engine; changing them requires a reload, applied at a cycle boundary.
type RiskConfig struct {
	MaxPortfolioExposure float64 `toml:"max_portfolio_exposure"`
	MaxPositionSize      float64 `toml:"max_position_size"`
	MaxOpenPositions     int     `toml:"max_open_positions"`
	MaxDailyTrades       int     `toml:"max_daily_trades"`
	MaxDailyLoss         float64 `toml:"max_daily_loss"` // fraction of portfolio value
	StopLossEnabled      bool    `toml:"stop_loss_enabled"`
	StopLossPct          float64 `toml:"stop_loss_pct"`
	MaxCorrelation       float64 `toml:"max_correlation"`
	VaRConfidence        float64 `toml:"var_confidence"`
	WarnFraction         float64 `toml:"warn_fraction"` // proximity-warning threshold
}

// StrategyConfig holds the strategy set and per-strategy parameters.
type StrategyConfig struct {
	Active  []string           `toml:"active"`
	Weights map[string]float64 `toml:"weights"`

	SentimentEnsemble SentimentEnsembleConfig `toml:"sentiment_ensemble"`
	StatArb           StatArbConfig           `toml:"stat_arb"`
}

// SentimentEnsembleConfig holds parameters for the sentiment-ensemble strategy.
type SentimentEnsembleConfig struct {
	Enabled             bool               `toml:"enabled"`
	ModelWeights        map[string]float64 `toml:"model_weights"`
	ConfidenceThreshold float64            `toml:"confidence_threshold"`
	SentimentThreshold  float64            `toml:"sentiment_threshold"`
	MomentumWindow      duration           `toml:"momentum_window"`
	MomentumGain        float64            `toml:"momentum_gain"` // amplification when aligned
	MomentumDamp        float64            `toml:"momentum_damp"` // damping when opposed
	VolumeThreshold     float64            `toml:"volume_threshold"`
	ObservationWindow   duration           `toml:"observation_window"`
}

// StatArbConfig holds parameters for the statistical-arbitrage strategy.
type StatArbConfig struct {
	Enabled          bool    `toml:"enabled"`
	MinCorrelation   float64 `toml:"min_correlation"`
	ZScoreThreshold  float64 `toml:"zscore_threshold"`
	ZScoreExit       float64 `toml:"zscore_exit"`
	LookbackDays     int     `toml:"lookback_days"`
	MinDataPoints    int     `toml:"min_data_points"`
	MaxPairs         int     `toml:"max_pairs"`
	ProbSumThreshold float64 `toml:"prob_sum_threshold"` // mutually exclusive YES-price sum trigger
}

// EngineConfig holds orchestrator parameters.
type EngineConfig struct {
	TradingInterval  duration `toml:"trading_interval"`
	MetricsInterval  duration `toml:"metrics_interval"`
	ExecutionTimeout duration `toml:"execution_timeout"`
	Autostart        string   `toml:"autostart"` // "", "monitoring", or "trading"
	CloseOnStop      bool     `toml:"close_on_stop"`
	LeaderLockTTL    duration `toml:"leader_lock_ttl"`
}

// MarketsConfig selects the tradable market universe.
type MarketsConfig struct {
	Tickers    []string `toml:"tickers"`    // explicit watchlist; empty means use categories
	Categories []string `toml:"categories"` // venue categories to include
	MaxMarkets int      `toml:"max_markets"`
}

// PipelineConfig holds background job schedules.
type PipelineConfig struct {
	MarketSyncInterval duration `toml:"market_sync_interval"`
	PriceRetention     duration `toml:"price_retention"`
	ArchiveEnabled     bool     `toml:"archive_enabled"`
	ArchiveHourUTC     int      `toml:"archive_hour_utc"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	ApiKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimitPerIP int      `toml:"rate_limit_per_ip"` // requests per second
	MetricsEnabled bool     `toml:"metrics_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:         "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:           "wss://api.elections.kalshi.com/trade-api/ws/v2",
			RequestTimeout:  duration{10 * time.Second},
			RateLimitPerSec: 10,
		},
		Sentiment: SentimentConfig{
			PollInterval: duration{30 * time.Second},
			Staleness:    duration{30 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "kalshibot",
			User:         "kalshibot",
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   8,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "archive",
		},
		Portfolio: PortfolioConfig{
			InitialCash: 10000,
			FeePerTrade: 0,
		},
		Risk: RiskConfig{
			MaxPortfolioExposure: 0.80,
			MaxPositionSize:      0.10,
			MaxOpenPositions:     10,
			MaxDailyTrades:       20,
			MaxDailyLoss:         0.02,
			StopLossEnabled:      true,
			StopLossPct:          0.05,
			MaxCorrelation:       0.70,
			VaRConfidence:        0.95,
			WarnFraction:         0.80,
		},
		Strategy: StrategyConfig{
			Active: []string{"sentiment_ensemble", "stat_arb"},
			Weights: map[string]float64{
				"sentiment_ensemble": 0.6,
				"stat_arb":           0.4,
			},
			SentimentEnsemble: SentimentEnsembleConfig{
				Enabled: true,
				ModelWeights: map[string]float64{
					"gpt4":     0.4,
					"claude":   0.3,
					"fintwit":  0.2,
					"newswire": 0.1,
				},
				ConfidenceThreshold: 0.60,
				SentimentThreshold:  0.60,
				MomentumWindow:      duration{time.Hour},
				MomentumGain:        0.5,
				MomentumDamp:        0.3,
				VolumeThreshold:     1.5,
				ObservationWindow:   duration{30 * time.Minute},
			},
			StatArb: StatArbConfig{
				Enabled:          true,
				MinCorrelation:   0.70,
				ZScoreThreshold:  2.0,
				ZScoreExit:       1.0,
				LookbackDays:     30,
				MinDataPoints:    20,
				MaxPairs:         25,
				ProbSumThreshold: 1.10,
			},
		},
		Engine: EngineConfig{
			TradingInterval:  duration{60 * time.Second},
			MetricsInterval:  duration{5 * time.Minute},
			ExecutionTimeout: duration{10 * time.Second},
			Autostart:        "monitoring",
			CloseOnStop:      false,
			LeaderLockTTL:    duration{90 * time.Second},
		},
		Markets: MarketsConfig{
			MaxMarkets: 50,
		},
		Pipeline: PipelineConfig{
			MarketSyncInterval: duration{15 * time.Minute},
			PriceRetention:     duration{45 * 24 * time.Hour},
			ArchiveEnabled:     false,
			ArchiveHourUTC:     2,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			RateLimitPerIP: 20,
			MetricsEnabled: true,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAutostart = map[string]bool{
	"":           true,
	"monitoring": true,
	"trading":    true,
}

// Validate checks Config for invalid or contradictory values and returns a
// combined error describing every problem found. Contradictions are rejected
// here, never clamped at use time.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi — credentials are required whenever the engine may trade.
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.ApiKeyID == "" {
		errs = append(errs, "kalshi: api_key_id must not be empty")
	}
	if c.Kalshi.RsaPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
		errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set")
	}
	if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
		errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
	}
	if c.Kalshi.RequestTimeout.Duration <= 0 {
		errs = append(errs, "kalshi: request_timeout must be positive")
	}
	if c.Kalshi.RateLimitPerSec < 1 {
		errs = append(errs, "kalshi: rate_limit_per_sec must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// Portfolio
	if c.Portfolio.InitialCash <= 0 {
		errs = append(errs, "portfolio: initial_cash must be positive")
	}
	if c.Portfolio.FeePerTrade < 0 {
		errs = append(errs, "portfolio: fee_per_trade must not be negative")
	}

	errs = append(errs, c.Risk.validate()...)
	errs = append(errs, c.Strategy.validate()...)

	// Engine
	if c.Engine.TradingInterval.Duration < time.Second {
		errs = append(errs, "engine: trading_interval must be at least 1s")
	}
	if c.Engine.MetricsInterval.Duration <= 0 {
		errs = append(errs, "engine: metrics_interval must be positive")
	}
	if c.Engine.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "engine: execution_timeout must be positive")
	}
	if !validAutostart[strings.ToLower(c.Engine.Autostart)] {
		errs = append(errs, fmt.Sprintf("engine: unknown autostart %q (valid: \"\", monitoring, trading)", c.Engine.Autostart))
	}
	if c.Engine.LeaderLockTTL.Duration <= c.Engine.TradingInterval.Duration {
		errs = append(errs, "engine: leader_lock_ttl must exceed trading_interval")
	}

	// Markets
	if c.Markets.MaxMarkets < 1 {
		errs = append(errs, "markets: max_markets must be >= 1")
	}

	// Pipeline
	if c.Pipeline.MarketSyncInterval.Duration <= 0 {
		errs = append(errs, "pipeline: market_sync_interval must be positive")
	}
	if c.Pipeline.ArchiveEnabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline.archive_enabled is set")
		}
		if c.Pipeline.ArchiveHourUTC < 0 || c.Pipeline.ArchiveHourUTC > 23 {
			errs = append(errs, fmt.Sprintf("pipeline: archive_hour_utc must be 0-23, got %d", c.Pipeline.ArchiveHourUTC))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerIP < 1 {
			errs = append(errs, "server: rate_limit_per_ip must be >= 1")
		}
	}

	// Sentiment
	if c.Sentiment.BaseURL != "" {
		if c.Sentiment.PollInterval.Duration <= 0 {
			errs = append(errs, "sentiment: poll_interval must be positive")
		}
		if c.Sentiment.Staleness.Duration <= 0 {
			errs = append(errs, "sentiment: staleness must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r *RiskConfig) validate() []string {
	var errs []string

	if r.MaxPortfolioExposure <= 0 || r.MaxPortfolioExposure > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_portfolio_exposure must be in (0,1], got %g", r.MaxPortfolioExposure))
	}
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_position_size must be in (0,1], got %g", r.MaxPositionSize))
	}
	if r.MaxPositionSize > r.MaxPortfolioExposure {
		errs = append(errs, "risk: max_position_size must not exceed max_portfolio_exposure")
	}
	if r.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if r.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if r.MaxDailyLoss <= 0 || r.MaxDailyLoss > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_daily_loss must be in (0,1], got %g", r.MaxDailyLoss))
	}
	if r.StopLossEnabled && (r.StopLossPct <= 0 || r.StopLossPct >= 1) {
		errs = append(errs, fmt.Sprintf("risk: stop_loss_pct must be in (0,1), got %g", r.StopLossPct))
	}
	if r.MaxCorrelation <= 0 || r.MaxCorrelation > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_correlation must be in (0,1], got %g", r.MaxCorrelation))
	}
	if r.VaRConfidence <= 0.5 || r.VaRConfidence >= 1 {
		errs = append(errs, fmt.Sprintf("risk: var_confidence must be in (0.5,1), got %g", r.VaRConfidence))
	}
	if r.WarnFraction <= 0 || r.WarnFraction >= 1 {
		errs = append(errs, fmt.Sprintf("risk: warn_fraction must be in (0,1), got %g", r.WarnFraction))
	}

	return errs
}

func (s *StrategyConfig) validate() []string {
	var errs []string

	known := map[string]bool{"sentiment_ensemble": true, "stat_arb": true}
	for _, name := range s.Active {
		if !known[name] {
			errs = append(errs, fmt.Sprintf("strategy: unknown active strategy %q", name))
		}
	}

	var weightSum float64
	for name, w := range s.Weights {
		if !known[name] {
			errs = append(errs, fmt.Sprintf("strategy: weight for unknown strategy %q", name))
			continue
		}
		if w <= 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("strategy: weight for %q must be in (0,1], got %g", name, w))
		}
		weightSum += w
	}
	if len(s.Weights) > 0 && weightSum > 1.0001 {
		errs = append(errs, fmt.Sprintf("strategy: weights must sum to at most 1, got %g", weightSum))
	}

	se := s.SentimentEnsemble
	if se.Enabled {
		if len(se.ModelWeights) == 0 {
			errs = append(errs, "sentiment_ensemble: model_weights must not be empty")
		}
		for model, w := range se.ModelWeights {
			if w <= 0 || w > 1 {
				errs = append(errs, fmt.Sprintf("sentiment_ensemble: model weight for %q must be in (0,1], got %g", model, w))
			}
		}
		if se.ConfidenceThreshold < 0 || se.ConfidenceThreshold > 1 {
			errs = append(errs, fmt.Sprintf("sentiment_ensemble: confidence_threshold must be in [0,1], got %g", se.ConfidenceThreshold))
		}
		if se.SentimentThreshold < 0 || se.SentimentThreshold > 1 {
			errs = append(errs, fmt.Sprintf("sentiment_ensemble: sentiment_threshold must be in [0,1], got %g", se.SentimentThreshold))
		}
		if se.MomentumWindow.Duration <= 0 {
			errs = append(errs, "sentiment_ensemble: momentum_window must be positive")
		}
		if se.MomentumGain < 0 || se.MomentumDamp < 0 || se.MomentumDamp >= 1 {
			errs = append(errs, "sentiment_ensemble: momentum_gain must be >= 0 and momentum_damp in [0,1)")
		}
		if se.VolumeThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("sentiment_ensemble: volume_threshold must be positive, got %g", se.VolumeThreshold))
		}
		if se.ObservationWindow.Duration <= 0 {
			errs = append(errs, "sentiment_ensemble: observation_window must be positive")
		}
	}

	sa := s.StatArb
	if sa.Enabled {
		if sa.MinCorrelation <= 0 || sa.MinCorrelation > 1 {
			errs = append(errs, fmt.Sprintf("stat_arb: min_correlation must be in (0,1], got %g", sa.MinCorrelation))
		}
		if sa.ZScoreThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("stat_arb: zscore_threshold must be positive, got %g", sa.ZScoreThreshold))
		}
		if sa.ZScoreExit <= 0 {
			errs = append(errs, fmt.Sprintf("stat_arb: zscore_exit must be positive, got %g", sa.ZScoreExit))
		}
		if sa.ZScoreExit >= sa.ZScoreThreshold {
			errs = append(errs, fmt.Sprintf("stat_arb: zscore_exit (%g) must be below zscore_threshold (%g)", sa.ZScoreExit, sa.ZScoreThreshold))
		}
		if sa.LookbackDays < 1 {
			errs = append(errs, "stat_arb: lookback_days must be >= 1")
		}
		if sa.MinDataPoints < 2 {
			errs = append(errs, "stat_arb: min_data_points must be >= 2")
		}
		if sa.MaxPairs < 1 {
			errs = append(errs, "stat_arb: max_pairs must be >= 1")
		}
		if sa.ProbSumThreshold <= 1 {
			errs = append(errs, fmt.Sprintf("stat_arb: prob_sum_threshold must exceed 1, got %g", sa.ProbSumThreshold))
		}
	}

	return errs
}
