// Package config defines the top-level configuration for the bagzbot
// trading agent and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BAGZBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Rpc        RpcConfig        `toml:"rpc"`
	Jupiter    JupiterConfig    `toml:"jupiter"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Trader     TraderConfig     `toml:"trader"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Feed       FeedConfig       `toml:"feed"`
	Notify     NotifyConfig     `toml:"notify"`
	Archive    ArchiveConfig    `toml:"archive"`
	Pairs      []PairConfig     `toml:"pairs"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the hot wallet's key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RpcConfig holds chain RPC node parameters.
type RpcConfig struct {
	Endpoint       string   `toml:"endpoint"`
	Commitment     string   `toml:"commitment"`
	SendMaxRetries int      `toml:"send_max_retries"`
	Timeout        duration `toml:"timeout"`
}

// JupiterConfig holds swap aggregator API endpoints.
type JupiterConfig struct {
	QuoteURL string   `toml:"quote_url"`
	PriceURL string   `toml:"price_url"`
	Timeout  duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig holds broadcast and confirmation policy.
type SettlementConfig struct {
	RebroadcastDelay     duration         `toml:"rebroadcast_delay"`
	ConfirmPollDelay     duration         `toml:"confirm_poll_delay"`
	ConfirmTimeout       duration         `toml:"confirm_timeout"`
	MaxSendExceptions    int              `toml:"max_send_exceptions"`
	MaxConfirmExceptions int              `toml:"max_confirm_exceptions"`
	ErrorCodes           ErrorCodesConfig `toml:"error_codes"`
}

// ErrorCodesConfig maps the swap program's custom error codes onto the
// failure outcomes the engine classifies.
type ErrorCodesConfig struct {
	Slippage                 int64 `toml:"slippage"`
	InsufficientBalance      int64 `toml:"insufficient_balance"`
	FrozenAccount            int64 `toml:"frozen_account"`
	FeeAccountNotInitialized int64 `toml:"fee_account_not_initialized"`
}

// TraderConfig holds defaults for new positions and the re-confirmation
// cadence.
type TraderConfig struct {
	DefaultTriggerPercent  float64  `toml:"default_trigger_percent"`
	DefaultSlippagePercent float64  `toml:"default_slippage_percent"`
	AutoDoubleSlippage     bool     `toml:"auto_double_slippage"`
	ConfirmInterval        duration `toml:"confirm_interval"`
}

// TrackerConfig holds per-pair actor policy.
type TrackerConfig struct {
	FlushInterval        duration `toml:"flush_interval"`
	MaxOtherSellFailures int      `toml:"max_other_sell_failures"`
	MaxSlippagePercent   float64  `toml:"max_slippage_percent"`
}

// FeedConfig holds price feed parameters. Source selects between the
// REST poller and the websocket stream.
type FeedConfig struct {
	Source       string   `toml:"source"`
	PollInterval duration `toml:"poll_interval"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	WsURL        string   `toml:"ws_url"`
}

// PairConfig declares one tracked instrument.
type PairConfig struct {
	BaseMint      string `toml:"base_mint"`
	BaseSymbol    string `toml:"base_symbol"`
	BaseDecimals  int32  `toml:"base_decimals"`
	QuoteMint     string `toml:"quote_mint"`
	QuoteSymbol   string `toml:"quote_symbol"`
	QuoteDecimals int32  `toml:"quote_decimals"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	StatusThrottle    duration `toml:"status_throttle"`
}

// ArchiveConfig holds the closed-position archive job parameters.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Rpc: RpcConfig{
			Endpoint:       "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			SendMaxRetries: 0,
			Timeout:        duration{15 * time.Second},
		},
		Jupiter: JupiterConfig{
			QuoteURL: "https://quote-api.jup.ag/v6",
			PriceURL: "https://price.jup.ag/v6",
			Timeout:  duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bagzbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			TLSEnabled:  false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bagzbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			RebroadcastDelay:     duration{2 * time.Second},
			ConfirmPollDelay:     duration{2 * time.Second},
			ConfirmTimeout:       duration{90 * time.Second},
			MaxSendExceptions:    5,
			MaxConfirmExceptions: 5,
			ErrorCodes: ErrorCodesConfig{
				Slippage:                 6001,
				InsufficientBalance:      6017,
				FrozenAccount:            6024,
				FeeAccountNotInitialized: 6031,
			},
		},
		Trader: TraderConfig{
			DefaultTriggerPercent:  5,
			DefaultSlippagePercent: 1,
			AutoDoubleSlippage:     false,
			ConfirmInterval:        duration{30 * time.Second},
		},
		Tracker: TrackerConfig{
			FlushInterval:        duration{10 * time.Second},
			MaxOtherSellFailures: 3,
			MaxSlippagePercent:   100,
		},
		Feed: FeedConfig{
			Source:       "poll",
			PollInterval: duration{5 * time.Second},
			RateLimit:    10,
			RateWindow:   duration{time.Second},
		},
		Notify: NotifyConfig{
			Events:         []string{"position.opened", "trigger.fired", "position.closed", "sell.failed", "sell.suspended", "sell.unconfirmed"},
			StatusThrottle: duration{500 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFeedSources enumerates the accepted values for FeedConfig.Source.
var validFeedSources = map[string]bool{
	"poll": true,
	"ws":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: at least one credential source must be set for trading modes.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Rpc
	if c.Rpc.Endpoint == "" {
		errs = append(errs, "rpc: endpoint must not be empty")
	}

	// Jupiter
	if c.Jupiter.QuoteURL == "" {
		errs = append(errs, "jupiter: quote_url must not be empty")
	}
	if c.Jupiter.PriceURL == "" {
		errs = append(errs, "jupiter: price_url must not be empty")
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

	// S3 is only required when the archive job is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when enabled")
		}
	}

	// Settlement
	if c.Settlement.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "settlement: confirm_timeout must be > 0")
	}
	if c.Settlement.MaxSendExceptions < 1 {
		errs = append(errs, "settlement: max_send_exceptions must be >= 1")
	}
	if c.Settlement.MaxConfirmExceptions < 1 {
		errs = append(errs, "settlement: max_confirm_exceptions must be >= 1")
	}

	// Trader
	if c.Trader.DefaultTriggerPercent <= 0 || c.Trader.DefaultTriggerPercent >= 100 {
		errs = append(errs, fmt.Sprintf("trader: default_trigger_percent must be in (0, 100), got %v", c.Trader.DefaultTriggerPercent))
	}
	if c.Trader.DefaultSlippagePercent <= 0 {
		errs = append(errs, "trader: default_slippage_percent must be > 0")
	}

	// Tracker
	if c.Tracker.MaxOtherSellFailures < 1 {
		errs = append(errs, "tracker: max_other_sell_failures must be >= 1")
	}
	if c.Tracker.MaxSlippagePercent <= 0 || c.Tracker.MaxSlippagePercent > 100 {
		errs = append(errs, fmt.Sprintf("tracker: max_slippage_percent must be in (0, 100], got %v", c.Tracker.MaxSlippagePercent))
	}

	// Feed
	if !validFeedSources[strings.ToLower(c.Feed.Source)] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: poll, ws)", c.Feed.Source))
	}
	if strings.ToLower(c.Feed.Source) == "ws" && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must be set when source is ws")
	}

	// Pairs
	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one tracked pair must be declared")
	}
	seen := map[string]bool{}
	for i, p := range c.Pairs {
		if p.BaseMint == "" || p.QuoteMint == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: base_mint and quote_mint must not be empty", i))
			continue
		}
		if p.BaseDecimals < 0 || p.QuoteDecimals < 0 {
			errs = append(errs, fmt.Sprintf("pairs[%d]: decimals must be >= 0", i))
		}
		key := p.BaseMint + ":" + p.QuoteMint
		if seen[key] {
			errs = append(errs, fmt.Sprintf("pairs[%d]: duplicate pair %s", i, key))
		}
		seen[key] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
