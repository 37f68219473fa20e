package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/IggyIkenna/basis-strategy-v1-sub007/internal/blob/s3"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/cache/redis"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/config"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/notify"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function. Fields are nil when the configured mode does not
// need them.
type Dependencies struct {
	// Stores
	RunStore   domain.RunStore
	EventStore domain.EventStore
	PnLStore   domain.PnLStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	MarkCache   domain.MarkPriceCache
	IndexCache  domain.IndexCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.RunArchiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true when the configuration requires a database
// connection. Live runs always persist; backtests only when asked to.
func needsPostgres(cfg *config.Config) bool {
	switch cfg.Mode {
	case "live":
		return true
	case "backtest":
		return cfg.Backtest.Persist || cfg.Backtest.ArchiveOnComplete
	default:
		return false
	}
}

// needsRedis returns true for modes driven by the shared market data caches.
func needsRedis(cfg *config.Config) bool {
	return cfg.Mode == "live"
}

// needsS3 returns true when the configuration requires object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "backtest" && cfg.Backtest.ArchiveOnComplete
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

	// --- PostgreSQL (run, event, and PnL persistence) ---
	if needsPostgres(cfg) {
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

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.RunStore = postgres.NewRunStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.PnLStore = postgres.NewPnLStore(pool)
	}

	// --- Redis (live market data caches, leader lock, execution bus) ---
	if needsRedis(cfg) {
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.MarkCache = redis.NewMarkPriceCache(redisClient)
		deps.IndexCache = redis.NewIndexCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (run archival) ---
	if needsS3(cfg) {
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
		// Archiving reads the run back out of Postgres, so it needs the stores.
		if deps.RunStore != nil && deps.EventStore != nil && deps.PnLStore != nil {
			deps.Archiver = s3blob.NewRunArchive(
				deps.BlobWriter,
				deps.RunStore,
				deps.EventStore,
				deps.PnLStore,
				logger,
			).WithVerification(deps.BlobReader)
		}
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

	return deps, cleanup, nil
}
