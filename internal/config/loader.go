package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BAGZBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BAGZBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BAGZBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "BAGZBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "BAGZBOT_WALLET_KEY_PASSWORD")

	// ── Rpc ──
	setStr(&cfg.Rpc.Endpoint, "BAGZBOT_RPC_ENDPOINT")
	setStr(&cfg.Rpc.Commitment, "BAGZBOT_RPC_COMMITMENT")
	setInt(&cfg.Rpc.SendMaxRetries, "BAGZBOT_RPC_SEND_MAX_RETRIES")
	setDuration(&cfg.Rpc.Timeout, "BAGZBOT_RPC_TIMEOUT")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.QuoteURL, "BAGZBOT_JUPITER_QUOTE_URL")
	setStr(&cfg.Jupiter.PriceURL, "BAGZBOT_JUPITER_PRICE_URL")
	setDuration(&cfg.Jupiter.Timeout, "BAGZBOT_JUPITER_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BAGZBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BAGZBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BAGZBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BAGZBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BAGZBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BAGZBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BAGZBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BAGZBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BAGZBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BAGZBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BAGZBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BAGZBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BAGZBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BAGZBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BAGZBOT_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "BAGZBOT_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "BAGZBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BAGZBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BAGZBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BAGZBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BAGZBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BAGZBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BAGZBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BAGZBOT_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setDuration(&cfg.Settlement.RebroadcastDelay, "BAGZBOT_SETTLEMENT_REBROADCAST_DELAY")
	setDuration(&cfg.Settlement.ConfirmPollDelay, "BAGZBOT_SETTLEMENT_CONFIRM_POLL_DELAY")
	setDuration(&cfg.Settlement.ConfirmTimeout, "BAGZBOT_SETTLEMENT_CONFIRM_TIMEOUT")
	setInt(&cfg.Settlement.MaxSendExceptions, "BAGZBOT_SETTLEMENT_MAX_SEND_EXCEPTIONS")
	setInt(&cfg.Settlement.MaxConfirmExceptions, "BAGZBOT_SETTLEMENT_MAX_CONFIRM_EXCEPTIONS")

	// ── Trader ──
	setFloat64(&cfg.Trader.DefaultTriggerPercent, "BAGZBOT_TRADER_DEFAULT_TRIGGER_PERCENT")
	setFloat64(&cfg.Trader.DefaultSlippagePercent, "BAGZBOT_TRADER_DEFAULT_SLIPPAGE_PERCENT")
	setBool(&cfg.Trader.AutoDoubleSlippage, "BAGZBOT_TRADER_AUTO_DOUBLE_SLIPPAGE")
	setDuration(&cfg.Trader.ConfirmInterval, "BAGZBOT_TRADER_CONFIRM_INTERVAL")

	// ── Tracker ──
	setDuration(&cfg.Tracker.FlushInterval, "BAGZBOT_TRACKER_FLUSH_INTERVAL")
	setInt(&cfg.Tracker.MaxOtherSellFailures, "BAGZBOT_TRACKER_MAX_OTHER_SELL_FAILURES")
	setFloat64(&cfg.Tracker.MaxSlippagePercent, "BAGZBOT_TRACKER_MAX_SLIPPAGE_PERCENT")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "BAGZBOT_FEED_SOURCE")
	setDuration(&cfg.Feed.PollInterval, "BAGZBOT_FEED_POLL_INTERVAL")
	setInt(&cfg.Feed.RateLimit, "BAGZBOT_FEED_RATE_LIMIT")
	setDuration(&cfg.Feed.RateWindow, "BAGZBOT_FEED_RATE_WINDOW")
	setStr(&cfg.Feed.WsURL, "BAGZBOT_FEED_WS_URL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BAGZBOT_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "BAGZBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BAGZBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BAGZBOT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.StatusThrottle, "BAGZBOT_NOTIFY_STATUS_THROTTLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BAGZBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BAGZBOT_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "BAGZBOT_MODE")
	setStr(&cfg.LogLevel, "BAGZBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
