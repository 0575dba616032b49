// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
//
// Money, prices and fractions are decimal.Decimal and decode from TOML
// strings (e.g. target_combined_cost = "0.99") so no threshold ever passes
// through a float.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Trading    TradingConfig    `toml:"trading"`
	Markets    MarketsConfig    `toml:"markets"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Feed       FeedConfig       `toml:"feed"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials for order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters, and the
// L2 (CLOB) API credentials.
type PolymarketConfig struct {
	ClobHost        string `toml:"clob_host"`
	GammaHost       string `toml:"gamma_host"`
	WsHost          string `toml:"ws_host"`
	ChainID         int    `toml:"chain_id"`
	ExchangeAddress string `toml:"exchange_address"`
	SignatureType   int    `toml:"signature_type"`
	ApiKey          string `toml:"api_key"`
	ApiSecret       string `toml:"api_secret"`
	ApiPassphrase   string `toml:"api_passphrase"`
}

// TradingConfig holds the sizing, profitability, and resilience parameters
// for the scan-execute loop.
type TradingConfig struct {
	// BankrollUSD is the capital base; each trade spends at most
	// bankroll * max_spend_fraction, and open positions reserve their spend.
	BankrollUSD        decimal.Decimal `toml:"bankroll_usd"`
	TargetCombinedCost decimal.Decimal `toml:"target_combined_cost"`
	MinProfitMargin    decimal.Decimal `toml:"min_profit_margin"`
	MinLiquidity       decimal.Decimal `toml:"min_liquidity"`
	MaxSpendFraction   decimal.Decimal `toml:"max_spend_fraction"`
	BalanceTolerance   decimal.Decimal `toml:"balance_tolerance"`
	GasCostPerOrder    decimal.Decimal `toml:"gas_cost_per_order"`
	FeeRate            decimal.Decimal `toml:"fee_rate"`
	MinOrderSpend      decimal.Decimal `toml:"min_order_spend"`

	ExpirySafetyMargin duration `toml:"expiry_safety_margin"`

	PollInterval         duration `toml:"poll_interval"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	MaxBackoff           duration `toml:"max_backoff"`

	FillPollInterval duration `toml:"fill_poll_interval"`
	FillPollTimeout  duration `toml:"fill_poll_timeout"`

	MaxOpenPositions int      `toml:"max_open_positions"`
	MarketCooldown   duration `toml:"market_cooldown"`

	// SettleInterval is how often resolved markets are swept for
	// positions to finalize.
	SettleInterval duration `toml:"settle_interval"`

	DryRun bool `toml:"dry_run"`
}

// MarketsConfig controls market discovery and price refresh cadence.
type MarketsConfig struct {
	DiscoveryInterval duration `toml:"discovery_interval"`
	RefreshInterval   duration `toml:"refresh_interval"`
	// Keywords filters discovered markets: a market is tracked when its
	// question contains at least one keyword (case-insensitive). Empty means
	// track everything the discovery query returns.
	Keywords   []string `toml:"keywords"`
	EventLimit int      `toml:"event_limit"`
	MaxTracked int      `toml:"max_tracked"`
}

// PostgresConfig holds PostgreSQL connection parameters for the ledger.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	MarketTTL     duration `toml:"market_ttl"`
	RunnerLockTTL duration `toml:"runner_lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for ledger archival.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
}

// FeedConfig controls the live WebSocket price feed.
type FeedConfig struct {
	Enabled bool `toml:"enabled"`
	// ReconnectDelay is the pause before redialing a dropped stream.
	ReconnectDelay duration `toml:"reconnect_delay"`
	// ResubscribeEvery is how often the feed checks whether discovery has
	// changed the tracked token set and the subscription must be rebuilt.
	ResubscribeEvery duration `toml:"resubscribe_every"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "2m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:         137,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			SignatureType:   0,
		},
		Trading: TradingConfig{
			BankrollUSD:          dec("100"),
			TargetCombinedCost:   dec("0.99"),
			MinProfitMargin:      dec("0.005"),
			MinLiquidity:         dec("250"),
			MaxSpendFraction:     dec("0.5"),
			BalanceTolerance:     dec("0.05"),
			GasCostPerOrder:      dec("0.01"),
			FeeRate:              dec("0"),
			MinOrderSpend:        dec("1"),
			ExpirySafetyMargin:   duration{2 * time.Minute},
			PollInterval:         duration{5 * time.Second},
			MaxConsecutiveErrors: 5,
			MaxBackoff:           duration{5 * time.Minute},
			FillPollInterval:     duration{2 * time.Second},
			FillPollTimeout:      duration{30 * time.Second},
			MaxOpenPositions:     10,
			MarketCooldown:       duration{10 * time.Minute},
			SettleInterval:       duration{2 * time.Minute},
			DryRun:               true,
		},
		Markets: MarketsConfig{
			DiscoveryInterval: duration{2 * time.Minute},
			RefreshInterval:   duration{10 * time.Second},
			Keywords:          []string{"bitcoin", "ethereum"},
			EventLimit:        100,
			MaxTracked:        50,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			TLSEnabled:    false,
			MarketTTL:     duration{5 * time.Minute},
			RunnerLockTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			Retention:      duration{30 * 24 * time.Hour},
		},
		Feed: FeedConfig{
			Enabled:          false,
			ReconnectDelay:   duration{2 * time.Second},
			ResubscribeEvery: duration{30 * time.Second},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// dec parses a decimal literal for use in Defaults. Panics on malformed
// input, which can only happen at compile-time-constant call sites.
func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var one = decimal.New(1, 0)

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: live trading needs a key source; dry runs and archival do not.
	if strings.ToLower(c.Mode) == "trade" && !c.Trading.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live trading")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.ExchangeAddress == "" {
		errs = append(errs, "polymarket: exchange_address must not be empty")
	}

	// Trading
	t := &c.Trading
	if !t.BankrollUSD.IsPositive() {
		errs = append(errs, "trading: bankroll_usd must be > 0")
	}
	if !t.TargetCombinedCost.IsPositive() || t.TargetCombinedCost.GreaterThan(one) {
		errs = append(errs, fmt.Sprintf("trading: target_combined_cost must be in (0, 1], got %s", t.TargetCombinedCost))
	}
	if t.MinProfitMargin.IsNegative() {
		errs = append(errs, "trading: min_profit_margin must be >= 0")
	}
	if t.MinLiquidity.IsNegative() {
		errs = append(errs, "trading: min_liquidity must be >= 0")
	}
	if !t.MaxSpendFraction.IsPositive() || t.MaxSpendFraction.GreaterThan(one) {
		errs = append(errs, fmt.Sprintf("trading: max_spend_fraction must be in (0, 1], got %s", t.MaxSpendFraction))
	}
	if t.BalanceTolerance.IsNegative() || t.BalanceTolerance.GreaterThanOrEqual(one) {
		errs = append(errs, fmt.Sprintf("trading: balance_tolerance must be in [0, 1), got %s", t.BalanceTolerance))
	}
	if t.GasCostPerOrder.IsNegative() {
		errs = append(errs, "trading: gas_cost_per_order must be >= 0")
	}
	if t.MinOrderSpend.IsNegative() {
		errs = append(errs, "trading: min_order_spend must be >= 0")
	}
	if t.FeeRate.IsNegative() || t.FeeRate.GreaterThanOrEqual(one) {
		errs = append(errs, fmt.Sprintf("trading: fee_rate must be in [0, 1), got %s", t.FeeRate))
	}
	if t.PollInterval.Duration <= 0 {
		errs = append(errs, "trading: poll_interval must be > 0")
	}
	if t.MaxConsecutiveErrors < 1 {
		errs = append(errs, "trading: max_consecutive_errors must be >= 1")
	}
	if t.MaxBackoff.Duration < t.PollInterval.Duration {
		errs = append(errs, "trading: max_backoff must be >= poll_interval")
	}
	if t.FillPollInterval.Duration <= 0 || t.FillPollTimeout.Duration <= 0 {
		errs = append(errs, "trading: fill_poll_interval and fill_poll_timeout must be > 0")
	}
	if t.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	if t.SettleInterval.Duration <= 0 {
		errs = append(errs, "trading: settle_interval must be > 0")
	}

	// Markets
	if c.Markets.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "markets: discovery_interval must be > 0")
	}
	if c.Markets.RefreshInterval.Duration <= 0 {
		errs = append(errs, "markets: refresh_interval must be > 0")
	}
	if c.Markets.EventLimit < 1 {
		errs = append(errs, "markets: event_limit must be >= 1")
	}
	if c.Markets.MaxTracked < 1 {
		errs = append(errs, "markets: max_tracked must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.MarketTTL.Duration <= 0 {
		errs = append(errs, "redis: market_ttl must be > 0")
	}
	if c.Redis.RunnerLockTTL.Duration <= 0 {
		errs = append(errs, "redis: runner_lock_ttl must be > 0")
	}

	// S3 settings only matter when archival is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Retention.Duration <= 0 {
			errs = append(errs, "s3: retention must be > 0")
		}
	}
	if strings.ToLower(c.Mode) == "archive" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for archive mode")
	}

	// Feed settings only matter when the live stream is on.
	if c.Feed.Enabled {
		if c.Polymarket.WsHost == "" {
			errs = append(errs, "polymarket: ws_host must not be empty when the feed is enabled")
		}
		if c.Feed.ReconnectDelay.Duration <= 0 {
			errs = append(errs, "feed: reconnect_delay must be > 0")
		}
		if c.Feed.ResubscribeEvery.Duration <= 0 {
			errs = append(errs, "feed: resubscribe_every must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
