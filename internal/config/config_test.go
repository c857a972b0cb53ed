package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults() does not validate: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[store]
driver = "memory"

[server]
port = 9001
max_auth_skew = "90s"

[server.rate_limit]
enabled = false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("server.port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Server.MaxAuthSkew.Duration != 90*time.Second {
		t.Errorf("max_auth_skew = %v, want 90s", cfg.Server.MaxAuthSkew.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres.port default lost: %d", cfg.Postgres.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("PEERSTAKE_STORE_DRIVER", "memory")
	t.Setenv("PEERSTAKE_POSTGRES_PASSWORD", "sekret")
	t.Setenv("PEERSTAKE_SERVER_PORT", "8443")
	t.Setenv("PEERSTAKE_REDIS_ENABLED", "false")
	t.Setenv("PEERSTAKE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Postgres.Password != "sekret" {
		t.Errorf("postgres.password override lost")
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("server.port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Redis.Enabled {
		t.Errorf("redis.enabled = true, want false")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors_origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestValidateCatchesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "flatfile"
	cfg.LogLevel = "loud"
	cfg.Server.Port = 0
	cfg.Bank.Driver = "evm" // no rpc_url, no key

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, frag := range []string{"store:", "log_level", "server: port", "bank: rpc_url"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("error %q missing %q", err.Error(), frag)
		}
	}
}

func TestValidateRateLimitNeedsRedis(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Enabled = false
	cfg.Server.RateLimit.Enabled = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "rate_limit requires redis") {
		t.Errorf("Validate = %v, want rate-limit/redis error", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pgpw"
	cfg.Bank.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	if red.Postgres.Password != "***" || red.Bank.PrivateKey != "***" ||
		red.Server.APIKey != "***" || red.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", red)
	}
	// Original is untouched.
	if cfg.Postgres.Password != "pgpw" {
		t.Errorf("RedactedConfig mutated the original")
	}
	// Empty secrets stay empty rather than becoming "***".
	if red.Redis.Password != "" {
		t.Errorf("empty secret redacted to %q", red.Redis.Password)
	}
}
