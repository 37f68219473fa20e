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
// built-in defaults, applies BASIS_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BASIS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.ExecutionTimeout, "BASIS_ENGINE_EXECUTION_TIMEOUT")
	setFloat64(&cfg.Engine.ReconciliationTolerance, "BASIS_ENGINE_RECONCILIATION_TOLERANCE")
	setFloat64(&cfg.Engine.HealthFactorTarget, "BASIS_ENGINE_HEALTH_FACTOR_TARGET")
	setFloat64(&cfg.Engine.MarginRatioTarget, "BASIS_ENGINE_MARGIN_RATIO_TARGET")
	setFloat64(&cfg.Engine.DeltaTolerance, "BASIS_ENGINE_DELTA_TOLERANCE")

	// ── Venue credentials ──
	// Per-venue secrets follow the pattern BASIS_VENUE_<NAME>_API_KEY etc.
	for name, venue := range cfg.Venues {
		prefix := "BASIS_VENUE_" + strings.ToUpper(name) + "_"
		setStr(&venue.APIKey, prefix+"API_KEY")
		setStr(&venue.APISecret, prefix+"API_SECRET")
		setStr(&venue.APIPassphrase, prefix+"API_PASSPHRASE")
		setStr(&venue.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&venue.SecretPassword, prefix+"SECRET_PASSWORD")
		cfg.Venues[name] = venue
	}

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "BASIS_STRATEGY_NAME")
	setFloat64(&cfg.Strategy.BasisCarry.EntryFundingAnnualized, "BASIS_STRATEGY_ENTRY_FUNDING_ANNUALIZED")
	setFloat64(&cfg.Strategy.BasisCarry.ExitFundingAnnualized, "BASIS_STRATEGY_EXIT_FUNDING_ANNUALIZED")
	setFloat64(&cfg.Strategy.BasisCarry.TargetFraction, "BASIS_STRATEGY_TARGET_FRACTION")
	setFloat64(&cfg.Strategy.BasisCarry.RebalanceBand, "BASIS_STRATEGY_REBALANCE_BAND")
	setFloat64(&cfg.Strategy.BasisCarry.MinOrderNotional, "BASIS_STRATEGY_MIN_ORDER_NOTIONAL")

	// ── Backtest ──
	setStr(&cfg.Backtest.DataPath, "BASIS_BACKTEST_DATA_PATH")
	setBool(&cfg.Backtest.Persist, "BASIS_BACKTEST_PERSIST")
	setBool(&cfg.Backtest.ArchiveOnComplete, "BASIS_BACKTEST_ARCHIVE_ON_COMPLETE")

	// ── Live ──
	setDuration(&cfg.Live.Interval, "BASIS_LIVE_INTERVAL")
	setDuration(&cfg.Live.MaxAge, "BASIS_LIVE_MAX_AGE")
	setStr(&cfg.Live.WSURL, "BASIS_LIVE_WS_URL")
	setStr(&cfg.Live.RPCURL, "BASIS_LIVE_RPC_URL")
	setStr(&cfg.Live.SubgraphURL, "BASIS_LIVE_SUBGRAPH_URL")
	setStr(&cfg.Live.SubgraphAPIKey, "BASIS_LIVE_SUBGRAPH_API_KEY")
	setDuration(&cfg.Live.IndexPollInterval, "BASIS_LIVE_INDEX_POLL_INTERVAL")
	setDuration(&cfg.Live.LeaderLockTTL, "BASIS_LIVE_LEADER_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BASIS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BASIS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BASIS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BASIS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BASIS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BASIS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BASIS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BASIS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BASIS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BASIS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BASIS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BASIS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BASIS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BASIS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BASIS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BASIS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BASIS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BASIS_S3_REGION")
	setStr(&cfg.S3.Bucket, "BASIS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BASIS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BASIS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BASIS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BASIS_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BASIS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BASIS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BASIS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BASIS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Run.ReportingCurrency, "BASIS_REPORTING_CURRENCY")
	setStr(&cfg.Mode, "BASIS_MODE")
	setStr(&cfg.LogLevel, "BASIS_LOG_LEVEL")
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
