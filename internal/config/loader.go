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
// built-in defaults, applies SOLBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "SOLBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.PrivateKey, "SOLBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLBOT_WALLET_KEY_PASSWORD")

	// ── Webhook ──
	setStr(&cfg.Webhook.Secret, "SOLBOT_WEBHOOK_SECRET")
	setDuration(&cfg.Webhook.DedupWindow, "SOLBOT_WEBHOOK_DEDUP_WINDOW")
	setInt(&cfg.Webhook.RawWindowSize, "SOLBOT_WEBHOOK_RAW_WINDOW_SIZE")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SOLBOT_SOLANA_RPC_URL")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.BaseURL, "SOLBOT_JUPITER_BASE_URL")

	// ── Feeds ──
	setDuration(&cfg.Feeds.PollInterval, "SOLBOT_FEEDS_POLL_INTERVAL")
	setDuration(&cfg.Feeds.StaleAfter, "SOLBOT_FEEDS_STALE_AFTER")
	setStr(&cfg.Feeds.BirdeyeAPIKey, "SOLBOT_FEEDS_BIRDEYE_API_KEY")
	setStr(&cfg.Feeds.BirdeyeBaseURL, "SOLBOT_FEEDS_BIRDEYE_BASE_URL")
	setStr(&cfg.Feeds.BirdeyeWSURL, "SOLBOT_FEEDS_BIRDEYE_WS_URL")
	setStr(&cfg.Feeds.DexScreenerURL, "SOLBOT_FEEDS_DEXSCREENER_URL")
	setStr(&cfg.Feeds.CoinGeckoURL, "SOLBOT_FEEDS_COINGECKO_URL")
	setBool(&cfg.Feeds.StreamEnabled, "SOLBOT_FEEDS_STREAM_ENABLED")

	// ── Executor ──
	setDuration(&cfg.Executor.WarmInterval, "SOLBOT_EXECUTOR_WARM_INTERVAL")
	setDuration(&cfg.Executor.MaxQuoteAge, "SOLBOT_EXECUTOR_MAX_QUOTE_AGE")
	setFloat64(&cfg.Executor.MaxBalanceDriftPct, "SOLBOT_EXECUTOR_MAX_BALANCE_DRIFT_PCT")
	setInt(&cfg.Executor.SlippageBps, "SOLBOT_EXECUTOR_SLIPPAGE_BPS")
	setInt(&cfg.Executor.FailureThreshold, "SOLBOT_EXECUTOR_FAILURE_THRESHOLD")
	setInt(&cfg.Executor.SubmitRetries, "SOLBOT_EXECUTOR_SUBMIT_RETRIES")
	setDuration(&cfg.Executor.ConfirmTimeout, "SOLBOT_EXECUTOR_CONFIRM_TIMEOUT")

	// ── Storage ──
	setStr(&cfg.Storage.DataDir, "SOLBOT_STORAGE_DATA_DIR")
	setInt(&cfg.Storage.MaxSnapshots, "SOLBOT_STORAGE_MAX_SNAPSHOTS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SOLBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SOLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SOLBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "SOLBOT_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.RetentionDays, "SOLBOT_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SOLBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SOLBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SOLBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SOLBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SOLBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLBOT_MODE")
	setStr(&cfg.LogLevel, "SOLBOT_LOG_LEVEL")
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
