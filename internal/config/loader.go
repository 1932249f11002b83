package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads a .env file if one
// exists, and applies OTC_* overrides. A missing file at path is not an
// error; the defaults and environment are used alone. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose OTC_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Admin, "OTC_ENGINE_ADMIN")
	setStr(&cfg.Engine.Custody, "OTC_ENGINE_CUSTODY")
	setStringSlice(&cfg.Engine.PaymentAssets, "OTC_ENGINE_PAYMENT_ASSETS")

	// ── Store ──
	setStr(&cfg.Store.Driver, "OTC_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OTC_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "OTC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OTC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OTC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OTC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OTC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OTC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OTC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OTC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OTC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OTC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OTC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OTC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OTC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OTC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OTC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OTC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "OTC_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "OTC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OTC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OTC_S3_REGION")
	setStr(&cfg.S3.Bucket, "OTC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OTC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OTC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OTC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OTC_S3_FORCE_PATH_STYLE")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "OTC_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Address, "OTC_KEEPER_ADDRESS")
	setDuration(&cfg.Keeper.Interval, "OTC_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "OTC_KEEPER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OTC_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "OTC_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "OTC_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OTC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OTC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OTC_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.AuthSkew, "OTC_SERVER_AUTH_SKEW")
	setInt(&cfg.Server.RateLimit, "OTC_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.LedgerEndpoints, "OTC_SERVER_LEDGER_ENDPOINTS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OTC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OTC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OTC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OTC_NOTIFY_EVENTS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "OTC_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OTC_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OTC_WALLET_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "OTC_MODE")
	setStr(&cfg.LogLevel, "OTC_LOG_LEVEL")
}

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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
