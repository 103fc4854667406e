package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/soltraderbot/internal/blob/s3"
	"github.com/alanyoungcy/soltraderbot/internal/cache/redis"
	"github.com/alanyoungcy/soltraderbot/internal/config"
	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/notify"
	"github.com/alanyoungcy/soltraderbot/internal/store/file"
	"github.com/alanyoungcy/soltraderbot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Local persistence
	PositionStore *file.PositionStore
	RawLog        domain.RawTransactionLog

	// Caches and coordination
	PriceCache    domain.PriceCache
	MetadataCache domain.MetadataCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// History mirror (full mode only)
	HistoryStore domain.HistoryStore
	AuditStore   domain.AuditStore

	// Blob storage (full mode only)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that mirror history to a database.
func needsPostgres(mode string) bool {
	return mode == "full"
}

// needsS3 returns true for modes that archive aged state to object storage.
func needsS3(mode string) bool {
	return mode == "full"
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

	// --- Local file persistence ---
	posStore, err := file.NewPositionStore(cfg.Storage.DataDir, cfg.Storage.MaxSnapshots, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: position store: %w", err)
	}
	deps.PositionStore = posStore

	rawLog, err := file.NewRawLog(cfg.Storage.DataDir, cfg.Webhook.RawWindowSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: raw transaction log: %w", err)
	}
	deps.RawLog = rawLog

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.MetadataCache = redis.NewMetadataCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL history mirror ---
	if needsPostgres(cfg.Mode) && cfg.Postgres.Enabled {
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
		deps.HistoryStore = postgres.NewHistoryStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) && cfg.S3.Enabled {
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
			posStore.SnapshotsDir(),
			deps.RawLog,
			deps.AuditStore,
			logger,
		)
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
