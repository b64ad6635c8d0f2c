// Package config defines the top-level configuration for the cost estimator
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COSTSIM_* environment
// variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Book      BookConfig      `toml:"book"`
	Params    ParamsConfig    `toml:"params"`
	Slippage  SlippageConfig  `toml:"slippage"`
	Impact    ImpactConfig    `toml:"impact"`
	Fees      FeesConfig      `toml:"fees"`
	Simulator SimulatorConfig `toml:"simulator"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	LogFile   string          `toml:"log_file"`
}

// FeedConfig holds the market data connection parameters.
type FeedConfig struct {
	WsHost         string   `toml:"ws_host"`
	Exchange       string   `toml:"exchange"`
	Asset          string   `toml:"asset"`
	ConnectTimeout duration `toml:"connect_timeout"`
	QueueSize      int      `toml:"queue_size"`

	BackoffBase       duration `toml:"backoff_base"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	BackoffMax        duration `toml:"backoff_max"`
	BackoffJitter     float64  `toml:"backoff_jitter"`
}

// BookConfig holds the local orderbook parameters.
type BookConfig struct {
	MaxDepth     int `toml:"max_depth"`
	MetricsDepth int `toml:"metrics_depth"`
}

// ParamsConfig is the hypothetical order costed at startup, adjustable at
// runtime through the API.
type ParamsConfig struct {
	OrderType   string  `toml:"order_type"`
	QuantityUSD float64 `toml:"quantity_usd"`
	Volatility  float64 `toml:"volatility"`
	FeeTier     string  `toml:"fee_tier"`
	Side        string  `toml:"side"`
}

// SlippageConfig holds slippage model parameters.
type SlippageConfig struct {
	HistoryCapacity int      `toml:"history_capacity"`
	TrainThreshold  int      `toml:"train_threshold"`
	Strategy        string   `toml:"strategy"` // "quantile" or "linear"
	Quantile        float64  `toml:"quantile"`
	SafetyK         float64  `toml:"safety_k"`
	MaxBookAge      duration `toml:"max_book_age"`
}

// ImpactConfig holds market impact model parameters.
type ImpactConfig struct {
	Eta                  float64 `toml:"eta"`
	Gamma                float64 `toml:"gamma"`
	RiskAversion         float64 `toml:"risk_aversion"`
	Exponent             float64 `toml:"exponent"`
	ReferenceVolumeUSD   float64 `toml:"reference_volume_usd"`
	ImbalanceSensitivity float64 `toml:"imbalance_sensitivity"`
}

// FeeTierConfig holds the maker and taker rates for one fee tier.
type FeeTierConfig struct {
	MakerBps float64 `toml:"maker_bps"`
	TakerBps float64 `toml:"taker_bps"`
}

// FeesConfig holds the fee tier table. An empty table selects the built-in
// schedule.
type FeesConfig struct {
	Tiers map[string]FeeTierConfig `toml:"tiers"`
}

// SimulatorConfig holds cost aggregation parameters.
type SimulatorConfig struct {
	CacheTTL         duration `toml:"cache_ttl"`
	TickInterval     duration `toml:"tick_interval"`
	ObservationFlush int      `toml:"observation_flush"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LiveTTL    duration `toml:"live_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds result archival parameters.
type ArchiveConfig struct {
	Interval      duration `toml:"interval"`
	Prefix        string   `toml:"prefix"`
	BatchLimit    int      `toml:"batch_limit"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
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
		Feed: FeedConfig{
			WsHost:            "wss://ws.okx.com:8443/ws/v5/public",
			Exchange:          "OKX",
			Asset:             "BTC-USDT",
			ConnectTimeout:    duration{15 * time.Second},
			QueueSize:         1024,
			BackoffBase:       duration{500 * time.Millisecond},
			BackoffMultiplier: 2.0,
			BackoffMax:        duration{30 * time.Second},
			BackoffJitter:     0.2,
		},
		Book: BookConfig{
			MaxDepth:     50,
			MetricsDepth: 10,
		},
		Params: ParamsConfig{
			OrderType:   "market",
			QuantityUSD: 100,
			Volatility:  0.02,
			FeeTier:     "VIP0",
			Side:        "buy",
		},
		Slippage: SlippageConfig{
			HistoryCapacity: 500,
			TrainThreshold:  50,
			Strategy:        "quantile",
			Quantile:        0.9,
			SafetyK:         2.0,
			MaxBookAge:      duration{0},
		},
		Impact: ImpactConfig{
			Eta:                  0.1,
			Gamma:                0.05,
			RiskAversion:         1.0,
			Exponent:             0.5,
			ReferenceVolumeUSD:   50_000_000,
			ImbalanceSensitivity: 0.2,
		},
		Simulator: SimulatorConfig{
			CacheTTL:         duration{300 * time.Millisecond},
			TickInterval:     duration{time.Second},
			ObservationFlush: 20,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "costsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			LiveTTL:    duration{10 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "costsim-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{5 * time.Minute},
			Prefix:        "cost-results",
			BatchLimit:    5000,
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sim":    true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSides = map[string]bool{
	"buy":  true,
	"sell": true,
}

var validStrategies = map[string]bool{
	"quantile": true,
	"linear":   true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sim, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.WsHost == "" {
		errs = append(errs, "feed: ws_host must not be empty")
	}
	if c.Feed.Asset == "" {
		errs = append(errs, "feed: asset must not be empty")
	}
	if c.Feed.QueueSize < 1 {
		errs = append(errs, "feed: queue_size must be >= 1")
	}
	if c.Feed.BackoffMultiplier < 1 {
		errs = append(errs, "feed: backoff_multiplier must be >= 1")
	}
	if c.Feed.BackoffJitter < 0 || c.Feed.BackoffJitter > 1 {
		errs = append(errs, "feed: backoff_jitter must be in [0, 1]")
	}

	// Book
	if c.Book.MaxDepth < 1 {
		errs = append(errs, "book: max_depth must be >= 1")
	}
	if c.Book.MetricsDepth < 1 || c.Book.MetricsDepth > c.Book.MaxDepth {
		errs = append(errs, fmt.Sprintf("book: metrics_depth must be 1-%d, got %d", c.Book.MaxDepth, c.Book.MetricsDepth))
	}

	// Params
	if c.Params.QuantityUSD <= 0 {
		errs = append(errs, "params: quantity_usd must be > 0")
	}
	if c.Params.Volatility < 0 {
		errs = append(errs, "params: volatility must be >= 0")
	}
	if !validSides[strings.ToLower(c.Params.Side)] {
		errs = append(errs, fmt.Sprintf("params: side must be buy or sell, got %q", c.Params.Side))
	}
	if c.Params.FeeTier == "" {
		errs = append(errs, "params: fee_tier must not be empty")
	} else if len(c.Fees.Tiers) > 0 {
		if _, ok := c.Fees.Tiers[c.Params.FeeTier]; !ok {
			errs = append(errs, fmt.Sprintf("params: fee_tier %q not present in fees.tiers", c.Params.FeeTier))
		}
	}

	// Slippage
	if c.Slippage.TrainThreshold < 2 {
		errs = append(errs, "slippage: train_threshold must be >= 2")
	}
	if c.Slippage.HistoryCapacity < c.Slippage.TrainThreshold {
		errs = append(errs, "slippage: history_capacity must be >= train_threshold")
	}
	if !validStrategies[strings.ToLower(c.Slippage.Strategy)] {
		errs = append(errs, fmt.Sprintf("slippage: strategy must be quantile or linear, got %q", c.Slippage.Strategy))
	}
	if c.Slippage.Quantile <= 0.5 || c.Slippage.Quantile >= 1 {
		errs = append(errs, fmt.Sprintf("slippage: quantile must be in (0.5, 1), got %g", c.Slippage.Quantile))
	}
	if c.Slippage.SafetyK < 0 {
		errs = append(errs, "slippage: safety_k must be >= 0")
	}

	// Impact
	if c.Impact.Eta <= 0 || c.Impact.Gamma < 0 {
		errs = append(errs, "impact: eta must be > 0 and gamma >= 0")
	}
	if c.Impact.Exponent <= 0 || c.Impact.Exponent > 1 {
		errs = append(errs, fmt.Sprintf("impact: exponent must be in (0, 1], got %g", c.Impact.Exponent))
	}
	if c.Impact.ReferenceVolumeUSD <= 0 {
		errs = append(errs, "impact: reference_volume_usd must be > 0")
	}

	// Fees
	for name, tier := range c.Fees.Tiers {
		if tier.MakerBps < 0 || tier.TakerBps < 0 {
			errs = append(errs, fmt.Sprintf("fees: tier %q rates must be >= 0", name))
		}
	}

	// Postgres
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
	}

	// Archive
	if c.Archive.RetentionDays < 0 {
		errs = append(errs, "archive: retention_days must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis to be enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
