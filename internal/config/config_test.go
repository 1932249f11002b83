package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminHex = "0xad00000000000000000000000000000000000001"

func valid() Config {
	cfg := Defaults()
	cfg.Engine.Admin = adminHex
	return cfg
}

func TestDefaultsNeedOnlyAdmin(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: admin")

	cfg = valid()
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := valid()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Store.Driver = "sqlite"
	cfg.Engine.PaymentAssets = []string{"native", "usdt"}
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`unknown driver "sqlite"`,
		`payment asset "usdt"`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := valid()
	cfg.Mode = "keeper"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs driver postgres")

	cfg.Store.Driver = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "archive"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires s3.enabled")

	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Archive.Cron = "sometimes"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid cron "sometimes"`)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[engine]
admin = "0xad00000000000000000000000000000000000001"
payment_assets = ["native", "0xdAC17F958D2ee523a2206206994597C13D831ec7"]

[keeper]
interval = "45s"

[server]
port = 9000
`), 0o600))

	t.Setenv("OTC_SERVER_PORT", "9100")
	t.Setenv("OTC_NOTIFY_EVENTS", "order_created, ,order_cancelled")
	t.Setenv("OTC_KEEPER_INTERVAL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Len(t, cfg.Engine.PaymentAssets, 2)
	assert.Equal(t, 45*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, []string{"order_created", "order_cancelled"}, cfg.Notify.Events)
	assert.Equal(t, 30, cfg.Archive.RetentionDays)
	assert.Equal(t, 30*24*time.Hour, cfg.Archive.Retention())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OTC_ENGINE_ADMIN", adminHex)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, adminHex, cfg.Engine.Admin)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := valid()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.DiscordWebhookURL = "https://discord/hook"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.DiscordWebhookURL)
	assert.Empty(t, red.Wallet.KeyPassword)
	assert.Equal(t, adminHex, red.Engine.Admin)

	red.Engine.PaymentAssets[0] = "changed"
	assert.Equal(t, "native", cfg.Engine.PaymentAssets[0])
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)
}
