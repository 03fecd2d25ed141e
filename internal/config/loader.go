package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KALBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KALBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "KALBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "KALBOT_KALSHI_WS_URL")
	setStr(&cfg.Kalshi.ApiKeyID, "KALBOT_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "KALBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "KALBOT_KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "KALBOT_KALSHI_KEY_PASSWORD")
	setDuration(&cfg.Kalshi.RequestTimeout, "KALBOT_KALSHI_REQUEST_TIMEOUT")
	setInt(&cfg.Kalshi.RateLimitPerSec, "KALBOT_KALSHI_RATE_LIMIT_PER_SEC")

	// ── Sentiment ──
	setStr(&cfg.Sentiment.BaseURL, "KALBOT_SENTIMENT_BASE_URL")
	setStr(&cfg.Sentiment.ApiKey, "KALBOT_SENTIMENT_API_KEY")
	setDuration(&cfg.Sentiment.PollInterval, "KALBOT_SENTIMENT_POLL_INTERVAL")
	setDuration(&cfg.Sentiment.Staleness, "KALBOT_SENTIMENT_STALENESS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "KALBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KALBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KALBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KALBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KALBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KALBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KALBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KALBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KALBOT_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "KALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KALBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KALBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "KALBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KALBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KALBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "KALBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "KALBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KALBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KALBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KALBOT_S3_FORCE_PATH_STYLE")

	// ── Portfolio ──
	setFloat64(&cfg.Portfolio.InitialCash, "KALBOT_PORTFOLIO_INITIAL_CASH")
	setFloat64(&cfg.Portfolio.FeePerTrade, "KALBOT_PORTFOLIO_FEE_PER_TRADE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPortfolioExposure, "KALBOT_RISK_MAX_PORTFOLIO_EXPOSURE")
	setFloat64(&cfg.Risk.MaxPositionSize, "KALBOT_RISK_MAX_POSITION_SIZE")
	setInt(&cfg.Risk.MaxOpenPositions, "KALBOT_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxDailyTrades, "KALBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDailyLoss, "KALBOT_RISK_MAX_DAILY_LOSS")
	setBool(&cfg.Risk.StopLossEnabled, "KALBOT_RISK_STOP_LOSS_ENABLED")
	setFloat64(&cfg.Risk.StopLossPct, "KALBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxCorrelation, "KALBOT_RISK_MAX_CORRELATION")
	setFloat64(&cfg.Risk.VaRConfidence, "KALBOT_RISK_VAR_CONFIDENCE")
	setFloat64(&cfg.Risk.WarnFraction, "KALBOT_RISK_WARN_FRACTION")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "KALBOT_STRATEGY_ACTIVE")
	setBool(&cfg.Strategy.SentimentEnsemble.Enabled, "KALBOT_SENTIMENT_ENSEMBLE_ENABLED")
	setFloat64(&cfg.Strategy.SentimentEnsemble.ConfidenceThreshold, "KALBOT_SENTIMENT_ENSEMBLE_CONFIDENCE_THRESHOLD")
	setFloat64(&cfg.Strategy.SentimentEnsemble.SentimentThreshold, "KALBOT_SENTIMENT_ENSEMBLE_SENTIMENT_THRESHOLD")
	setDuration(&cfg.Strategy.SentimentEnsemble.MomentumWindow, "KALBOT_SENTIMENT_ENSEMBLE_MOMENTUM_WINDOW")
	setFloat64(&cfg.Strategy.SentimentEnsemble.VolumeThreshold, "KALBOT_SENTIMENT_ENSEMBLE_VOLUME_THRESHOLD")
	setBool(&cfg.Strategy.StatArb.Enabled, "KALBOT_STAT_ARB_ENABLED")
	setFloat64(&cfg.Strategy.StatArb.MinCorrelation, "KALBOT_STAT_ARB_MIN_CORRELATION")
	setFloat64(&cfg.Strategy.StatArb.ZScoreThreshold, "KALBOT_STAT_ARB_ZSCORE_THRESHOLD")
	setFloat64(&cfg.Strategy.StatArb.ZScoreExit, "KALBOT_STAT_ARB_ZSCORE_EXIT")
	setInt(&cfg.Strategy.StatArb.LookbackDays, "KALBOT_STAT_ARB_LOOKBACK_DAYS")
	setInt(&cfg.Strategy.StatArb.MinDataPoints, "KALBOT_STAT_ARB_MIN_DATA_POINTS")

	// ── Engine ──
	setDuration(&cfg.Engine.TradingInterval, "KALBOT_ENGINE_TRADING_INTERVAL")
	setDuration(&cfg.Engine.MetricsInterval, "KALBOT_ENGINE_METRICS_INTERVAL")
	setDuration(&cfg.Engine.ExecutionTimeout, "KALBOT_ENGINE_EXECUTION_TIMEOUT")
	setStr(&cfg.Engine.Autostart, "KALBOT_ENGINE_AUTOSTART")
	setBool(&cfg.Engine.CloseOnStop, "KALBOT_ENGINE_CLOSE_ON_STOP")

	// ── Markets ──
	setStringSlice(&cfg.Markets.Tickers, "KALBOT_MARKETS_TICKERS")
	setStringSlice(&cfg.Markets.Categories, "KALBOT_MARKETS_CATEGORIES")
	setInt(&cfg.Markets.MaxMarkets, "KALBOT_MARKETS_MAX_MARKETS")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.MarketSyncInterval, "KALBOT_PIPELINE_MARKET_SYNC_INTERVAL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "KALBOT_PIPELINE_ARCHIVE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveHourUTC, "KALBOT_PIPELINE_ARCHIVE_HOUR_UTC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KALBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KALBOT_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "KALBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "KALBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerIP, "KALBOT_SERVER_RATE_LIMIT_PER_IP")
	setBool(&cfg.Server.MetricsEnabled, "KALBOT_SERVER_METRICS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KALBOT_NOTIFY_EVENTS")

	// ── Misc ──
	setStr(&cfg.LogLevel, "KALBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
