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
// built-in defaults, applies ARBSCAN_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBSCAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Paths ──
	setInt(&cfg.Paths.MinLength, "ARBSCAN_PATHS_MIN_LENGTH")
	setInt(&cfg.Paths.MaxLength, "ARBSCAN_PATHS_MAX_LENGTH")
	setStringSlice(&cfg.Paths.StartAssets, "ARBSCAN_PATHS_START_ASSETS")
	setBool(&cfg.Paths.AllowRevisitAssets, "ARBSCAN_PATHS_ALLOW_REVISIT_ASSETS")
	setBool(&cfg.Paths.AllowSameMarketTwice, "ARBSCAN_PATHS_ALLOW_SAME_MARKET_TWICE")
	setBool(&cfg.Paths.AllowCrossExchange, "ARBSCAN_PATHS_ALLOW_CROSS_EXCHANGE")

	// ── Risk model ──
	setStr(&cfg.RiskModel.MinProfitMargin, "ARBSCAN_RISK_MIN_PROFIT_MARGIN")
	setStr(&cfg.RiskModel.VolRiskMultiplier, "ARBSCAN_RISK_VOL_RISK_MULTIPLIER")
	setStr(&cfg.RiskModel.SlippageCoefficient, "ARBSCAN_RISK_SLIPPAGE_COEFFICIENT")
	setDuration(&cfg.RiskModel.StalenessBound, "ARBSCAN_RISK_STALENESS_BOUND")
	setStr(&cfg.RiskModel.MinLegFillRatio, "ARBSCAN_RISK_MIN_LEG_FILL_RATIO")
	setBool(&cfg.RiskModel.AllowPartialFills, "ARBSCAN_RISK_ALLOW_PARTIAL_FILLS")

	// ── Execution ──
	setDuration(&cfg.Execution.TickInterval, "ARBSCAN_EXECUTION_TICK_INTERVAL")
	setInt(&cfg.Execution.MaxConcurrentPaths, "ARBSCAN_EXECUTION_MAX_CONCURRENT_PATHS")
	setInt(&cfg.Execution.OrderbookDepthLevels, "ARBSCAN_EXECUTION_ORDERBOOK_DEPTH_LEVELS")
	setStr(&cfg.Execution.InputNotional, "ARBSCAN_EXECUTION_INPUT_NOTIONAL")

	// ── Volatility ──
	setDuration(&cfg.Volatility.SampleInterval, "ARBSCAN_VOLATILITY_SAMPLE_INTERVAL")
	setDuration(&cfg.Volatility.RefreshInterval, "ARBSCAN_VOLATILITY_REFRESH_INTERVAL")
	setInt(&cfg.Volatility.WindowSamples, "ARBSCAN_VOLATILITY_WINDOW_SAMPLES")
	setDuration(&cfg.Volatility.MaxAge, "ARBSCAN_VOLATILITY_MAX_AGE")
	setFloat64(&cfg.Volatility.DefaultSigma, "ARBSCAN_VOLATILITY_DEFAULT_SIGMA")

	// ── Exchanges ── (credentials only; endpoints belong in the file)
	for name, ex := range cfg.Exchanges {
		prefix := "ARBSCAN_" + strings.ToUpper(name)
		setStr(&ex.ApiKey, prefix+"_API_KEY")
		setStr(&ex.ApiSecret, prefix+"_API_SECRET")
		setStr(&ex.EncryptedSecretPath, prefix+"_ENCRYPTED_SECRET_PATH")
		setStr(&ex.SecretPassword, prefix+"_SECRET_PASSWORD")
		setBool(&ex.Enabled, prefix+"_ENABLED")
		cfg.Exchanges[name] = ex
	}

	// ── Emit ──
	setInt(&cfg.Emit.QueueSize, "ARBSCAN_EMIT_QUEUE_SIZE")
	setInt(&cfg.Emit.RingSize, "ARBSCAN_EMIT_RING_SIZE")
	setBool(&cfg.Emit.RedisEnabled, "ARBSCAN_EMIT_REDIS_ENABLED")
	setStr(&cfg.Emit.Channel, "ARBSCAN_EMIT_CHANNEL")
	setStr(&cfg.Emit.Stream, "ARBSCAN_EMIT_STREAM")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBSCAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBSCAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBSCAN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBSCAN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBSCAN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBSCAN_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBSCAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBSCAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBSCAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBSCAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBSCAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBSCAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBSCAN_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBSCAN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBSCAN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBSCAN_POSTGRES_RUN_MIGRATIONS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBSCAN_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "ARBSCAN_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "ARBSCAN_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "ARBSCAN_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "ARBSCAN_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "ARBSCAN_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "ARBSCAN_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "ARBSCAN_ARCHIVE_FORCE_PATH_STYLE")
	setDuration(&cfg.Archive.FlushInterval, "ARBSCAN_ARCHIVE_FLUSH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBSCAN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBSCAN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBSCAN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "ARBSCAN_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBSCAN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBSCAN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBSCAN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBSCAN_NOTIFY_EVENTS")
	setStr(&cfg.Notify.MinMargin, "ARBSCAN_NOTIFY_MIN_MARGIN")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBSCAN_MODE")
	setStr(&cfg.LogLevel, "ARBSCAN_LOG_LEVEL")
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
