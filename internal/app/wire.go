package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/arbscan/internal/blob/s3"
	"github.com/alanyoungcy/arbscan/internal/cache/redis"
	"github.com/alanyoungcy/arbscan/internal/config"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/notify"
	"github.com/alanyoungcy/arbscan/internal/server/handler"
	"github.com/alanyoungcy/arbscan/internal/store/postgres"
)

// Dependencies bundles the infrastructure dependencies the modes need. Any
// of them may be nil when the configuration does not enable the backing
// service; the modes treat a nil dependency as that surface being off.
type Dependencies struct {
	Bus              domain.SignalBus
	MarketStore      domain.MarketStore
	OpportunityStore domain.OpportunityStore
	Archiver         *s3blob.Archiver
	Notifier         *notify.Notifier

	// HealthChecks feeds the /api/health dependency probes.
	HealthChecks map[string]handler.CheckFunc
}

// needsPostgres reports whether the mode reads or writes history.
func needsPostgres(mode string) bool {
	switch mode {
	case "record", "serve", "full":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.CheckFunc),
	}

	// Redis carries the outbound opportunity fan-out; it is wired only when
	// the emit section asks for it.
	if cfg.Emit.RedisEnabled {
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

		deps.Bus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis wired", slog.String("addr", cfg.Redis.Addr))
	}

	if needsPostgres(mode) {
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
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping
		logger.InfoContext(ctx, "postgres wired", slog.String("database", cfg.Postgres.Database))
	}

	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, cfg.Archive.FlushInterval.Duration, logger)
		deps.HealthChecks["s3"] = s3Client.Health
		logger.InfoContext(ctx, "s3 archiver wired", slog.String("bucket", cfg.Archive.Bucket))
	}

	if senders := buildSenders(cfg.Notify); len(senders) > 0 {
		minMargin := decimal.Zero
		if cfg.Notify.MinMargin != "" {
			// Validated at startup.
			minMargin, _ = decimal.NewFromString(cfg.Notify.MinMargin)
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, minMargin, logger)
		logger.InfoContext(ctx, "notifier wired", slog.Int("senders", len(senders)))
	}

	return deps, cleanup, nil
}

// buildSenders creates one Sender per configured notification channel.
func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
