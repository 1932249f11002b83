package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/premarket/internal/blob/s3"
	"github.com/alanyoungcy/premarket/internal/cache/local"
	"github.com/alanyoungcy/premarket/internal/cache/redis"
	"github.com/alanyoungcy/premarket/internal/config"
	"github.com/alanyoungcy/premarket/internal/crypto"
	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/engine"
	"github.com/alanyoungcy/premarket/internal/notify"
	"github.com/alanyoungcy/premarket/internal/server/handler"
	"github.com/alanyoungcy/premarket/internal/service"
	"github.com/alanyoungcy/premarket/internal/store/memory"
	"github.com/alanyoungcy/premarket/internal/store/postgres"
)

// Dependencies bundles everything the modes run on. It is built by Wire and
// torn down by the cleanup function Wire returns.
type Dependencies struct {
	Store  domain.Store
	Ledger domain.Ledger
	Audit  s3blob.AuditArchiveStore

	// Redis-backed when redis.enabled, process-local otherwise.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	// SignalBus is nil without Redis.
	SignalBus domain.SignalBus

	// Archiver is nil without S3.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Events   *service.EventFanout
	Engine   *engine.Engine

	// Operator is recorded as the caller of keeper forfeitures.
	Operator common.Address

	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs every dependency from cfg and returns them with a cleanup
// function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}
	custody := common.HexToAddress(cfg.Engine.Custody)

	// --- Store and ledger ---
	switch cfg.Store.Driver {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		store := postgres.NewStore(pgClient.Pool(), custody.Hex())
		deps.Store = store
		deps.Ledger = store.Ledger()
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping
	default:
		store := memory.New(custody)
		deps.Store = store
		deps.Ledger = store.Ledger()
		deps.Audit = memory.NewAuditStore()
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
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = local.NewRateLimiter()
		deps.LockManager = local.NewLockManager()
	}

	// --- S3 archive ---
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Store, deps.Audit)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	var notifier service.EventNotifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	deps.Events = service.NewEventFanout(deps.SignalBus, deps.Audit, notifier, logger)

	// --- Engine ---
	deps.Engine = engine.New(deps.Store, engine.Config{
		Admin:  cfg.AdminAddress(),
		Events: deps.Events,
		Logger: logger,
	})
	if err := seedPaymentAssets(ctx, deps.Engine, cfg); err != nil {
		return fail(err)
	}

	operator, err := operatorAddress(cfg)
	if err != nil {
		return fail(err)
	}
	deps.Operator = operator

	return deps, cleanup, nil
}

// seedPaymentAssets whitelists the configured payment assets that are not
// whitelisted yet.
func seedPaymentAssets(ctx context.Context, eng *engine.Engine, cfg *config.Config) error {
	current, err := eng.PaymentAssets(ctx)
	if err != nil {
		return fmt.Errorf("wire: list payment assets: %w", err)
	}
	have := make(map[domain.Asset]bool, len(current))
	for _, a := range current {
		have[a] = true
	}

	admin := domain.Call{Caller: cfg.AdminAddress()}
	for _, raw := range cfg.Engine.PaymentAssets {
		asset, err := domain.ParseAsset(raw)
		if err != nil {
			return fmt.Errorf("wire: payment asset %q: %w", raw, err)
		}
		if have[asset] {
			continue
		}
		if err := eng.SetPaymentAsset(ctx, admin, asset, true); err != nil {
			return fmt.Errorf("wire: whitelist %s: %w", asset, err)
		}
		have[asset] = true
	}
	return nil
}

// operatorAddress picks the keeper identity: keeper.address, else the
// operator wallet, else the admin.
func operatorAddress(cfg *config.Config) (common.Address, error) {
	if cfg.Keeper.Address != "" {
		return common.HexToAddress(cfg.Keeper.Address), nil
	}
	if cfg.Wallet.Configured() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return common.Address{}, fmt.Errorf("wire: operator wallet: %w", err)
		}
		return gethcrypto.PubkeyToAddress(key.PublicKey), nil
	}
	return cfg.AdminAddress(), nil
}
