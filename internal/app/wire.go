package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/peerstake/peerstake/internal/bank/banklog"
	"github.com/peerstake/peerstake/internal/bank/evm"
	s3blob "github.com/peerstake/peerstake/internal/blob/s3"
	"github.com/peerstake/peerstake/internal/cache/redis"
	"github.com/peerstake/peerstake/internal/config"
	"github.com/peerstake/peerstake/internal/crypto"
	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/events"
	"github.com/peerstake/peerstake/internal/notify"
	"github.com/peerstake/peerstake/internal/store/memory"
	"github.com/peerstake/peerstake/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the server needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Store domain.LedgerStore
	Sink  domain.EventSink
	Bank  domain.Bank

	// Nil when Redis is disabled.
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter

	// Nil when S3 is disabled.
	BlobWriter domain.BlobWriter

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
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

		deps.Store = postgres.NewLedgerStore(pgClient.Pool())
	case "memory":
		deps.Store = memory.New()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Bank ---
	switch strings.ToLower(cfg.Bank.Driver) {
	case "evm":
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Bank.PrivateKey,
			EncryptedKeyPath: cfg.Bank.EncryptedKeyPath,
			KeyPassword:      cfg.Bank.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bank key: %w", err)
		}
		evmBank, err := evm.New(ctx, evm.Config{
			RPCURL:        cfg.Bank.RPCURL,
			ChainID:       cfg.Bank.ChainID,
			PrivateKeyHex: key,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bank: %w", err)
		}
		closers = append(closers, evmBank.Close)
		deps.Bank = evmBank
	case "log":
		deps.Bank = banklog.New(logger)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown bank driver %q", cfg.Bank.Driver)
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

	// --- Event publishing ---
	deps.Sink = events.NewPublisher(deps.Bus, deps.Notifier, logger)

	return deps, cleanup, nil
}
