package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads configuration in three layers: built-in defaults, then the TOML
// file at path (skipped when path is empty or the file does not exist), then
// POLYARB_* environment variables. A .env file in the working directory is
// loaded into the environment first, if present.
//
// The returned Config is not validated; callers should invoke Validate.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	return cfg, nil
}

// applyEnvOverrides mutates cfg with any POLYARB_* environment variables that
// are set. Unset or empty variables leave the existing value untouched.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")

	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")

	setStr(&cfg.Polymarket.ClobHost, "POLYARB_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYARB_CHAIN_ID")
	setStr(&cfg.Polymarket.ExchangeAddress, "POLYARB_EXCHANGE_ADDRESS")
	setInt(&cfg.Polymarket.SignatureType, "POLYARB_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYARB_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYARB_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYARB_API_PASSPHRASE")

	setDecimal(&cfg.Trading.BankrollUSD, "POLYARB_BANKROLL_USD")
	setDecimal(&cfg.Trading.TargetCombinedCost, "POLYARB_TARGET_COMBINED_COST")
	setDecimal(&cfg.Trading.MinProfitMargin, "POLYARB_MIN_PROFIT_MARGIN")
	setDecimal(&cfg.Trading.MinLiquidity, "POLYARB_MIN_LIQUIDITY")
	setDecimal(&cfg.Trading.MaxSpendFraction, "POLYARB_MAX_SPEND_FRACTION")
	setDecimal(&cfg.Trading.BalanceTolerance, "POLYARB_BALANCE_TOLERANCE")
	setDecimal(&cfg.Trading.GasCostPerOrder, "POLYARB_GAS_COST_PER_ORDER")
	setDecimal(&cfg.Trading.FeeRate, "POLYARB_FEE_RATE")
	setDecimal(&cfg.Trading.MinOrderSpend, "POLYARB_MIN_ORDER_SPEND")
	setDuration(&cfg.Trading.ExpirySafetyMargin, "POLYARB_EXPIRY_SAFETY_MARGIN")
	setDuration(&cfg.Trading.PollInterval, "POLYARB_POLL_INTERVAL")
	setInt(&cfg.Trading.MaxConsecutiveErrors, "POLYARB_MAX_CONSECUTIVE_ERRORS")
	setDuration(&cfg.Trading.MaxBackoff, "POLYARB_MAX_BACKOFF")
	setDuration(&cfg.Trading.FillPollInterval, "POLYARB_FILL_POLL_INTERVAL")
	setDuration(&cfg.Trading.FillPollTimeout, "POLYARB_FILL_POLL_TIMEOUT")
	setInt(&cfg.Trading.MaxOpenPositions, "POLYARB_MAX_OPEN_POSITIONS")
	setDuration(&cfg.Trading.MarketCooldown, "POLYARB_MARKET_COOLDOWN")
	setDuration(&cfg.Trading.SettleInterval, "POLYARB_SETTLE_INTERVAL")
	setBool(&cfg.Trading.DryRun, "POLYARB_DRY_RUN")

	setDuration(&cfg.Markets.DiscoveryInterval, "POLYARB_DISCOVERY_INTERVAL")
	setDuration(&cfg.Markets.RefreshInterval, "POLYARB_REFRESH_INTERVAL")
	setStringSlice(&cfg.Markets.Keywords, "POLYARB_MARKET_KEYWORDS")
	setInt(&cfg.Markets.EventLimit, "POLYARB_EVENT_LIMIT")
	setInt(&cfg.Markets.MaxTracked, "POLYARB_MAX_TRACKED")

	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYARB_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketTTL, "POLYARB_REDIS_MARKET_TTL")
	setDuration(&cfg.Redis.RunnerLockTTL, "POLYARB_REDIS_RUNNER_LOCK_TTL")

	setBool(&cfg.S3.Enabled, "POLYARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.Retention, "POLYARB_S3_RETENTION")

	setBool(&cfg.Feed.Enabled, "POLYARB_FEED_ENABLED")
	setDuration(&cfg.Feed.ReconnectDelay, "POLYARB_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.ResubscribeEvery, "POLYARB_FEED_RESUBSCRIBE_EVERY")
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
