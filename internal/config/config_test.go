package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "trade", cfg.Mode)
	assert.True(t, cfg.Trading.DryRun, "defaults must not place live orders")
	assert.Equal(t, 5, cfg.Trading.MaxConsecutiveErrors)
	assert.Equal(t, 5*time.Second, cfg.Trading.PollInterval.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Trading.ExpirySafetyMargin.Duration)
	assert.True(t, cfg.Trading.TargetCombinedCost.Equal(decimal.RequireFromString("0.99")))
	assert.True(t, cfg.Trading.BalanceTolerance.Equal(decimal.RequireFromString("0.05")))
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "trade"
log_level = "debug"

[trading]
bankroll_usd = "250"
target_combined_cost = "0.97"
poll_interval = "3s"
dry_run = true

[markets]
keywords = ["bitcoin", "fed"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Trading.BankrollUSD.Equal(decimal.NewFromInt(250)))
	assert.True(t, cfg.Trading.TargetCombinedCost.Equal(decimal.RequireFromString("0.97")))
	assert.Equal(t, 3*time.Second, cfg.Trading.PollInterval.Duration)
	assert.Equal(t, []string{"bitcoin", "fed"}, cfg.Markets.Keywords)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "trade", cfg.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYARB_MODE", "archive")
	t.Setenv("POLYARB_BANKROLL_USD", "500")
	t.Setenv("POLYARB_POLL_INTERVAL", "7s")
	t.Setenv("POLYARB_DRY_RUN", "false")
	t.Setenv("POLYARB_MARKET_KEYWORDS", "btc, eth ,sol")
	t.Setenv("POLYARB_S3_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "archive", cfg.Mode)
	assert.True(t, cfg.Trading.BankrollUSD.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 7*time.Second, cfg.Trading.PollInterval.Duration)
	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, []string{"btc", "eth", "sol"}, cfg.Markets.Keywords)
	assert.True(t, cfg.S3.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trading.TargetCombinedCost = decimal.RequireFromString("1.5")
	cfg.Trading.BalanceTolerance = decimal.NewFromInt(1)
	cfg.Trading.MaxConsecutiveErrors = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "target_combined_cost")
	assert.Contains(t, err.Error(), "balance_tolerance")
	assert.Contains(t, err.Error(), "max_consecutive_errors")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateLiveTradeNeedsWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")

	cfg.Wallet.EncryptedKeyPath = "/keys/wallet.enc"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")

	cfg.Wallet.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveModeNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive mode")

	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "s3cret"
	cfg.Postgres.Password = "pgpass"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Redis.Password = ""

	red := RedactedConfig(cfg)

	assert.Equal(t, redacted, red.Wallet.PrivateKey)
	assert.Equal(t, redacted, red.Polymarket.ApiSecret)
	assert.Equal(t, redacted, red.Postgres.Password)
	assert.Equal(t, redacted, red.Postgres.DSN)
	assert.Empty(t, red.Redis.Password, "absent secrets stay empty")

	// Original is untouched.
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	// Keyword slice must not alias.
	red.Markets.Keywords[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Markets.Keywords[0])
}
