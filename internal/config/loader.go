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
// built-in defaults, applies PEERSTAKE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PEERSTAKE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "PEERSTAKE_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PEERSTAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PEERSTAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PEERSTAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PEERSTAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PEERSTAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PEERSTAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PEERSTAKE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PEERSTAKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PEERSTAKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PEERSTAKE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PEERSTAKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PEERSTAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PEERSTAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PEERSTAKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PEERSTAKE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PEERSTAKE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PEERSTAKE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PEERSTAKE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PEERSTAKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PEERSTAKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PEERSTAKE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PEERSTAKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PEERSTAKE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PEERSTAKE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PEERSTAKE_S3_FORCE_PATH_STYLE")

	// ── Bank ──
	setStr(&cfg.Bank.Driver, "PEERSTAKE_BANK_DRIVER")
	setStr(&cfg.Bank.RPCURL, "PEERSTAKE_BANK_RPC_URL")
	setInt64(&cfg.Bank.ChainID, "PEERSTAKE_BANK_CHAIN_ID")
	setStr(&cfg.Bank.PrivateKey, "PEERSTAKE_BANK_PRIVATE_KEY")
	setStr(&cfg.Bank.EncryptedKeyPath, "PEERSTAKE_BANK_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Bank.KeyPassword, "PEERSTAKE_BANK_KEY_PASSWORD")

	// ── Server ──
	setInt(&cfg.Server.Port, "PEERSTAKE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PEERSTAKE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PEERSTAKE_SERVER_API_KEY")
	setDuration(&cfg.Server.MaxAuthSkew, "PEERSTAKE_SERVER_MAX_AUTH_SKEW")
	setBool(&cfg.Server.RateLimit.Enabled, "PEERSTAKE_SERVER_RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.Limit, "PEERSTAKE_SERVER_RATE_LIMIT_LIMIT")
	setDuration(&cfg.Server.RateLimit.Window, "PEERSTAKE_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PEERSTAKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PEERSTAKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PEERSTAKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PEERSTAKE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PEERSTAKE_LOG_LEVEL")
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
