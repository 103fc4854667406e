// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Solana   SolanaConfig   `toml:"solana"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Feeds    FeedsConfig    `toml:"feeds"`
	Executor ExecutorConfig `toml:"executor"`
	Storage  StorageConfig  `toml:"storage"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the tracked wallet identity and signing credentials.
// Address alone is enough for track mode; selling requires a key source.
type WalletConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"` // base58, 64-byte key or 32-byte seed
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// WebhookConfig holds transaction webhook ingress parameters.
type WebhookConfig struct {
	Secret        string   `toml:"secret"` // empty disables verification
	DedupWindow   duration `toml:"dedup_window"`
	RawWindowSize int      `toml:"raw_window_size"`
}

// SolanaConfig holds RPC endpoint parameters.
type SolanaConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// JupiterConfig holds swap aggregator endpoints.
type JupiterConfig struct {
	BaseURL string `toml:"base_url"`
}

// FeedsConfig holds price feed sources and cadence.
type FeedsConfig struct {
	PollInterval   duration `toml:"poll_interval"`
	StaleAfter     duration `toml:"stale_after"`
	BirdeyeAPIKey  string   `toml:"birdeye_api_key"`
	BirdeyeBaseURL string   `toml:"birdeye_base_url"`
	BirdeyeWSURL   string   `toml:"birdeye_ws_url"`
	DexScreenerURL string   `toml:"dexscreener_url"`
	CoinGeckoURL   string   `toml:"coingecko_url"`
	StreamEnabled  bool     `toml:"stream_enabled"`
}

// ExecutorConfig holds sell execution parameters.
type ExecutorConfig struct {
	Fractions          []int    `toml:"fractions"`
	WarmInterval       duration `toml:"warm_interval"`
	MaxQuoteAge        duration `toml:"max_quote_age"`
	MaxBalanceDriftPct float64  `toml:"max_balance_drift_pct"`
	SlippageBps        int      `toml:"slippage_bps"`
	FailureThreshold   int      `toml:"failure_threshold"`
	SubmitRetries      int      `toml:"submit_retries"`
	ConfirmTimeout     duration `toml:"confirm_timeout"`
}

// StorageConfig holds local file persistence parameters.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	MaxSnapshots int    `toml:"max_snapshots"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// history mirror.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for the optional
// archiver.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per client per minute
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Webhook: WebhookConfig{
			DedupWindow:   duration{10 * time.Minute},
			RawWindowSize: 200,
		},
		Solana: SolanaConfig{
			RPCURL: "https://api.mainnet-beta.solana.com",
		},
		Jupiter: JupiterConfig{
			BaseURL: "https://quote-api.jup.ag/v6",
		},
		Feeds: FeedsConfig{
			PollInterval:   duration{15 * time.Second},
			StaleAfter:     duration{time.Minute},
			BirdeyeBaseURL: "https://public-api.birdeye.so",
			BirdeyeWSURL:   "wss://public-api.birdeye.so/socket/solana",
			DexScreenerURL: "https://api.dexscreener.com",
			CoinGeckoURL:   "https://api.coingecko.com/api/v3",
			StreamEnabled:  true,
		},
		Executor: ExecutorConfig{
			Fractions:          []int{25, 50, 100},
			WarmInterval:       duration{20 * time.Second},
			MaxQuoteAge:        duration{30 * time.Second},
			MaxBalanceDriftPct: 1.0,
			SlippageBps:        250,
			FailureThreshold:   3,
			SubmitRetries:      3,
			ConfirmTimeout:     duration{45 * time.Second},
		},
		Storage: StorageConfig{
			DataDir:      "data",
			MaxSnapshots: 20,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "soltraderbot-data",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{6 * time.Hour},
			RetentionDays:   7,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "sell_result", "feed_fallback"},
		},
		Mode:     "track",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"track": true,
	"trade": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: track, trade, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet. Track mode only observes; selling modes must be able to sign.
	if c.Wallet.Address == "" && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: address, private_key, or encrypted_key_path must be set")
	}
	needsKey := c.Mode == "trade" || c.Mode == "full"
	if needsKey {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if needsKey && c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty for mode "+c.Mode)
	}

	if c.Webhook.RawWindowSize < 1 {
		errs = append(errs, "webhook: raw_window_size must be >= 1")
	}
	if c.Webhook.DedupWindow.Duration <= 0 {
		errs = append(errs, "webhook: dedup_window must be > 0")
	}

	if c.Feeds.PollInterval.Duration <= 0 {
		errs = append(errs, "feeds: poll_interval must be > 0")
	}
	if c.Feeds.StaleAfter.Duration <= c.Feeds.PollInterval.Duration {
		errs = append(errs, "feeds: stale_after must exceed poll_interval")
	}

	for _, f := range c.Executor.Fractions {
		if f <= 0 || f > 100 {
			errs = append(errs, fmt.Sprintf("executor: fraction %d out of range (0, 100]", f))
		}
	}
	if c.Executor.MaxBalanceDriftPct <= 0 {
		errs = append(errs, "executor: max_balance_drift_pct must be > 0")
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, "storage: data_dir must not be empty")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
