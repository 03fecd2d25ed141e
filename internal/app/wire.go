package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/kalshibot/internal/blob/s3"
	"github.com/alanyoungcy/kalshibot/internal/cache/redis"
	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/crypto"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/metrics"
	"github.com/alanyoungcy/kalshibot/internal/notify"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
	"github.com/alanyoungcy/kalshibot/internal/platform/sentiment"
	"github.com/alanyoungcy/kalshibot/internal/store/postgres"
)

// priceCacheTTL bounds how long a cached price is served before readers fall
// back to the store. Prices older than this are stale for trading decisions.
const priceCacheTTL = 5 * time.Minute

// Dependencies bundles every infrastructure dependency the application needs
// to operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Markets   domain.MarketStore
	Prices    domain.PriceStore
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Signals   domain.SignalStore
	Cycles    domain.CycleStore
	Snapshots domain.RiskSnapshotStore
	Pairs     domain.PairStore
	Groups    domain.EventGroupStore
	StratCfg  domain.StrategyConfigStore
	Audit     domain.AuditStore

	// Caches and coordination
	PriceCache     domain.PriceCache
	SentimentCache domain.SentimentCache
	GroupCache     domain.EventGroupCache
	RateLimiter    domain.RateLimiter
	Locks          domain.LockManager
	Bus            domain.SignalBus

	// Cold storage; nil unless an S3 bucket is configured.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venue
	Venue   *kalshi.Client
	VenueWS *kalshi.WSClient
	Exec    *kalshi.ExecutionClient

	// SentimentAPI is nil unless a sentiment-scores endpoint is configured.
	SentimentAPI *sentiment.Client

	// Notifications and observability
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if err := pgClient.RunMigrations(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Prices = postgres.NewPriceStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.Cycles = postgres.NewCycleStore(pool)
	deps.Snapshots = postgres.NewRiskSnapshotStore(pool)
	deps.Pairs = postgres.NewPairStore(pool)
	deps.Groups = postgres.NewEventGroupStore(pool)
	deps.StratCfg = postgres.NewStrategyConfigStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL)
	deps.SentimentCache = redis.NewSentimentCache(redisClient)
	deps.GroupCache = redis.NewEventGroupCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	limiter := redis.NewRateLimiter(redisClient)
	limiter.SetLimit(kalshi.RateLimitKey, cfg.Kalshi.RateLimitPerSec)
	deps.RateLimiter = limiter

	// --- S3 blob storage (only when a bucket is configured) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.Trades,
			deps.Signals,
			deps.Cycles,
			deps.Audit,
		)
	}

	// --- Kalshi venue client ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		PrivateKeyPath:   cfg.Kalshi.RsaPrivateKeyPath,
		EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
		KeyPassword:      cfg.Kalshi.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: kalshi key: %w", err)
	}

	venue := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKeyID, cfg.Kalshi.RequestTimeout.Duration)
	venue.SetPrivateKey(key)
	venue.SetRateLimiter(deps.RateLimiter)
	deps.Venue = venue
	deps.VenueWS = kalshi.NewWSClient(cfg.Kalshi.WsURL)

	exec := kalshi.NewExecutionClient(venue)
	exec.SetFlatFee(cfg.Portfolio.FeePerTrade)
	deps.Exec = exec

	// --- Sentiment-scores API ---
	if cfg.Sentiment.BaseURL != "" {
		deps.SentimentAPI = sentiment.NewClient(cfg.Sentiment.BaseURL, cfg.Sentiment.ApiKey)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	deps.Metrics = metrics.New()

	return deps, cleanup, nil
}
