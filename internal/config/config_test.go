package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.Address = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	return cfg
}

func TestValidateDefaultsTrackMode(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateTradeModeRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error for trade mode without key")
	}
	if !strings.Contains(err.Error(), "private_key") {
		t.Errorf("error %q does not mention private_key", err)
	}

	cfg.Wallet.PrivateKey = "4wBqpZM9xaxYLB9s6K4sMpNHBXkLRsfSLPv3v1aPdmri"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with key = %v, want nil", err)
	}
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "full"
	cfg.Wallet.EncryptedKeyPath = "/etc/solbot/key.enc"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("Validate() = %v, want key_password error", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined error")
	}
	for _, want := range []string{"mode", "log_level", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateRejectsBadFraction(t *testing.T) {
	cfg := validConfig()
	cfg.Executor.Fractions = []int{25, 150}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "fraction") {
		t.Fatalf("Validate() = %v, want fraction error", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOLBOT_MODE", "trade")
	t.Setenv("SOLBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SOLBOT_FEEDS_POLL_INTERVAL", "5s")
	t.Setenv("SOLBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SOLBOT_S3_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "trade" {
		t.Errorf("Mode = %q, want trade", cfg.Mode)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Feeds.PollInterval.Duration != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Feeds.PollInterval.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if !cfg.S3.Enabled {
		t.Error("S3.Enabled = false, want true")
	}
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SOLBOT_SERVER_PORT", "not-a-number")
	t.Setenv("SOLBOT_EXECUTOR_WARM_INTERVAL", "soon")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want default 8000", cfg.Server.Port)
	}
	if cfg.Executor.WarmInterval.Duration != 20*time.Second {
		t.Errorf("WarmInterval = %v, want default 20s", cfg.Executor.WarmInterval.Duration)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "secret-key"
	cfg.Webhook.Secret = "hook-secret"
	cfg.Redis.Password = "redis-pass"
	cfg.Feeds.BirdeyeAPIKey = "be-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"wallet.private_key": red.Wallet.PrivateKey,
		"webhook.secret":     red.Webhook.Secret,
		"redis.password":     red.Redis.Password,
		"feeds.birdeye_key":  red.Feeds.BirdeyeAPIKey,
		"notify.telegram":    red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s = %q, want ***", name, got)
		}
	}

	// Empty secrets stay empty rather than becoming placeholders.
	if red.S3.SecretKey != "" {
		t.Errorf("S3.SecretKey = %q, want empty", red.S3.SecretKey)
	}
	// Originals are untouched.
	if cfg.Wallet.PrivateKey != "secret-key" {
		t.Error("RedactedConfig mutated the original")
	}

	// Slice copies are independent.
	red.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" {
		t.Error("CORSOrigins copy shares backing array with original")
	}
}
