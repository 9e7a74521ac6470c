// Package config defines the top-level configuration for the arbitrage
// scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBSCAN_* environment
// variables.
type Config struct {
	Paths      PathsConfig               `toml:"paths"`
	RiskModel  RiskModelConfig           `toml:"risk_model"`
	Execution  ExecutionConfig           `toml:"execution"`
	Volatility VolatilityConfig          `toml:"volatility"`
	Exchanges  map[string]ExchangeConfig `toml:"exchanges"`
	Markets    []MarketConfig            `toml:"markets"`
	Emit       EmitConfig                `toml:"emit"`
	Redis      RedisConfig               `toml:"redis"`
	Postgres   PostgresConfig            `toml:"postgres"`
	Archive    ArchiveConfig             `toml:"archive"`
	Server     ServerConfig              `toml:"server"`
	Notify     NotifyConfig              `toml:"notify"`
	Mode       string                    `toml:"mode"`
	LogLevel   string                    `toml:"log_level"`
}

// PathsConfig controls cycle enumeration over the market graph.
type PathsConfig struct {
	MinLength            int      `toml:"min_length"`
	MaxLength            int      `toml:"max_length"`
	StartAssets          []string `toml:"start_assets"`
	AllowRevisitAssets   bool     `toml:"allow_revisit_assets"`
	AllowSameMarketTwice bool     `toml:"allow_same_market_twice"`
	AllowCrossExchange   bool     `toml:"allow_cross_exchange"`
}

// RiskModelConfig holds the evaluator's thresholds and penalty
// coefficients. Fractions are decimal strings to avoid float drift in
// threshold comparisons.
type RiskModelConfig struct {
	MinProfitMargin     string   `toml:"min_profit_margin"`
	VolRiskMultiplier   string   `toml:"vol_risk_multiplier"`
	SlippageCoefficient string   `toml:"slippage_coefficient"`
	StalenessBound      duration `toml:"staleness_bound"`
	MinLegFillRatio     string   `toml:"min_leg_fill_ratio"`
	AllowPartialFills   bool     `toml:"allow_partial_fills"`
}

// ExecutionConfig holds the scanner cadence and sizing parameters.
type ExecutionConfig struct {
	TickInterval         duration `toml:"tick_interval"`
	MaxConcurrentPaths   int      `toml:"max_concurrent_paths"`
	OrderbookDepthLevels int      `toml:"orderbook_depth_levels"`
	InputNotional        string   `toml:"input_notional"`
	// NotionalOverrides maps a start asset to its input notional, taking
	// precedence over InputNotional for cycles rooted at that asset.
	NotionalOverrides map[string]string `toml:"notional_overrides"`
}

// VolatilityConfig holds the sigma estimator cadence.
type VolatilityConfig struct {
	SampleInterval  duration `toml:"sample_interval"`
	RefreshInterval duration `toml:"refresh_interval"`
	WindowSamples   int      `toml:"window_samples"`
	MaxAge          duration `toml:"max_age"`
	DefaultSigma    float64  `toml:"default_sigma"`
}

// ExchangeConfig holds one exchange's connectivity and credentials.
type ExchangeConfig struct {
	Enabled             bool     `toml:"enabled"`
	WsURL               string   `toml:"ws_url"`
	RestURL             string   `toml:"rest_url"`
	Symbols             []string `toml:"symbols"`
	TakerFee            string   `toml:"taker_fee"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
}

// MarketConfig is a static market descriptor, used alongside (or instead
// of) REST-discovered metadata.
type MarketConfig struct {
	Exchange    string `toml:"exchange"`
	Symbol      string `toml:"symbol"`
	Base        string `toml:"base"`
	Quote       string `toml:"quote"`
	TakerFee    string `toml:"taker_fee"`
	MinNotional string `toml:"min_notional"`
	PriceTick   string `toml:"price_tick"`
	QtyTick     string `toml:"qty_tick"`
}

// EmitConfig controls the opportunity sink.
type EmitConfig struct {
	QueueSize    int    `toml:"queue_size"`
	RingSize     int    `toml:"ring_size"`
	RedisEnabled bool   `toml:"redis_enabled"`
	Channel      string `toml:"channel"`
	Stream       string `toml:"stream"`
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

// ArchiveConfig holds the S3 opportunity archiver parameters.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinMargin         string   `toml:"min_margin"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "100ms", "5s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "100ms" or "5s".
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
		Paths: PathsConfig{
			MinLength:          2,
			MaxLength:          3,
			StartAssets:        []string{"USDC", "USDT"},
			AllowCrossExchange: true,
		},
		RiskModel: RiskModelConfig{
			MinProfitMargin:     "0.001",
			VolRiskMultiplier:   "0.5",
			SlippageCoefficient: "0.0005",
			StalenessBound:      duration{time.Second},
			MinLegFillRatio:     "0.9",
			AllowPartialFills:   true,
		},
		Execution: ExecutionConfig{
			TickInterval:         duration{100 * time.Millisecond},
			MaxConcurrentPaths:   8,
			OrderbookDepthLevels: 20,
			InputNotional:        "1000",
			NotionalOverrides:    map[string]string{},
		},
		Volatility: VolatilityConfig{
			SampleInterval:  duration{time.Second},
			RefreshInterval: duration{10 * time.Second},
			WindowSamples:   120,
			MaxAge:          duration{5 * time.Minute},
			DefaultSigma:    0.02,
		},
		Exchanges: map[string]ExchangeConfig{
			"binance": {
				Enabled:  true,
				WsURL:    "wss://stream.binance.com:9443/ws",
				RestURL:  "https://api.binance.com",
				TakerFee: "0.001",
			},
			"bybit": {
				Enabled:  false,
				WsURL:    "wss://stream.bybit.com/v5/public/spot",
				RestURL:  "https://api.bybit.com",
				TakerFee: "0.001",
			},
		},
		Emit: EmitConfig{
			QueueSize:    256,
			RingSize:     128,
			RedisEnabled: false,
			Channel:      "arbscan:opportunities",
			Stream:       "arbscan:opportunities:stream",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbscan",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbscan-data",
			ForcePathStyle: true,
			FlushInterval:  duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events:    []string{"opportunity", "quarantine", "feed_down"},
			MinMargin: "0.002",
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":   true,
	"serve":  true,
	"record": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, serve, record, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Paths
	if c.Paths.MinLength < 2 {
		errs = append(errs, fmt.Sprintf("paths: min_length must be >= 2, got %d", c.Paths.MinLength))
	}
	if c.Paths.MaxLength < c.Paths.MinLength {
		errs = append(errs, fmt.Sprintf("paths: max_length %d must be >= min_length %d", c.Paths.MaxLength, c.Paths.MinLength))
	}
	if len(c.Paths.StartAssets) == 0 {
		errs = append(errs, "paths: start_assets must not be empty")
	}

	// Risk model
	if v, err := decimal.NewFromString(c.RiskModel.MinProfitMargin); err != nil {
		errs = append(errs, "risk_model: min_profit_margin is not a valid decimal: "+c.RiskModel.MinProfitMargin)
	} else if v.IsNegative() {
		errs = append(errs, "risk_model: min_profit_margin must be >= 0")
	}
	if _, err := decimal.NewFromString(c.RiskModel.VolRiskMultiplier); err != nil {
		errs = append(errs, "risk_model: vol_risk_multiplier is not a valid decimal: "+c.RiskModel.VolRiskMultiplier)
	}
	if _, err := decimal.NewFromString(c.RiskModel.SlippageCoefficient); err != nil {
		errs = append(errs, "risk_model: slippage_coefficient is not a valid decimal: "+c.RiskModel.SlippageCoefficient)
	}
	if c.RiskModel.StalenessBound.Duration <= 0 {
		errs = append(errs, "risk_model: staleness_bound must be > 0")
	}
	if v, err := decimal.NewFromString(c.RiskModel.MinLegFillRatio); err != nil {
		errs = append(errs, "risk_model: min_leg_fill_ratio is not a valid decimal: "+c.RiskModel.MinLegFillRatio)
	} else if !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "risk_model: min_leg_fill_ratio must be in (0, 1]")
	}

	// Execution
	if c.Execution.TickInterval.Duration <= 0 {
		errs = append(errs, "execution: tick_interval must be > 0")
	}
	if c.Execution.MaxConcurrentPaths < 1 {
		errs = append(errs, "execution: max_concurrent_paths must be >= 1")
	}
	if c.Execution.OrderbookDepthLevels < 1 {
		errs = append(errs, "execution: orderbook_depth_levels must be >= 1")
	}
	if v, err := decimal.NewFromString(c.Execution.InputNotional); err != nil {
		errs = append(errs, "execution: input_notional is not a valid decimal: "+c.Execution.InputNotional)
	} else if !v.IsPositive() {
		errs = append(errs, "execution: input_notional must be > 0")
	}
	for asset, raw := range c.Execution.NotionalOverrides {
		if v, err := decimal.NewFromString(raw); err != nil || !v.IsPositive() {
			errs = append(errs, fmt.Sprintf("execution: notional_overrides[%s] must be a positive decimal, got %q", asset, raw))
		}
	}

	// Volatility
	if c.Volatility.SampleInterval.Duration <= 0 {
		errs = append(errs, "volatility: sample_interval must be > 0")
	}
	if c.Volatility.RefreshInterval.Duration <= 0 {
		errs = append(errs, "volatility: refresh_interval must be > 0")
	}
	if c.Volatility.WindowSamples < 3 {
		errs = append(errs, "volatility: window_samples must be >= 3")
	}
	if c.Volatility.DefaultSigma < 0 {
		errs = append(errs, "volatility: default_sigma must be >= 0")
	}

	// Exchanges
	anyEnabled := false
	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		anyEnabled = true
		if ex.WsURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: ws_url must not be empty", name))
		}
		if ex.RestURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: rest_url must not be empty", name))
		}
		if _, err := decimal.NewFromString(ex.TakerFee); err != nil {
			errs = append(errs, fmt.Sprintf("exchanges.%s: taker_fee is not a valid decimal: %s", name, ex.TakerFee))
		}
		if ex.EncryptedSecretPath != "" && ex.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: secret_password is required when encrypted_secret_path is set", name))
		}
	}
	if !anyEnabled && len(c.Markets) == 0 {
		errs = append(errs, "exchanges: at least one exchange must be enabled (or static [[markets]] provided)")
	}

	// Static markets
	for i, m := range c.Markets {
		if m.Exchange == "" || m.Symbol == "" || m.Base == "" || m.Quote == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: exchange, symbol, base, and quote are required", i))
		}
		if strings.EqualFold(m.Base, m.Quote) {
			errs = append(errs, fmt.Sprintf("markets[%d]: base and quote must differ", i))
		}
	}

	// Emit
	if c.Emit.QueueSize < 1 {
		errs = append(errs, "emit: queue_size must be >= 1")
	}
	if c.Emit.RingSize < 1 {
		errs = append(errs, "emit: ring_size must be >= 1")
	}
	if c.Emit.RedisEnabled && c.Emit.Channel == "" {
		errs = append(errs, "emit: channel must not be empty when redis_enabled")
	}

	// Redis — required only when the emit bus uses it.
	if c.Emit.RedisEnabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres — required for the modes that read or write history.
	if c.Mode == "record" || c.Mode == "serve" || c.Mode == "full" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.FlushInterval.Duration <= 0 {
			errs = append(errs, "archive: flush_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if c.Notify.MinMargin != "" {
		if _, err := decimal.NewFromString(c.Notify.MinMargin); err != nil {
			errs = append(errs, "notify: min_margin is not a valid decimal: "+c.Notify.MinMargin)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
