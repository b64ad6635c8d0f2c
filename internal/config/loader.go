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
// built-in defaults, applies COSTSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COSTSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsHost, "COSTSIM_FEED_WS_HOST")
	setStr(&cfg.Feed.Exchange, "COSTSIM_FEED_EXCHANGE")
	setStr(&cfg.Feed.Asset, "COSTSIM_FEED_ASSET")
	setDuration(&cfg.Feed.ConnectTimeout, "COSTSIM_FEED_CONNECT_TIMEOUT")
	setInt(&cfg.Feed.QueueSize, "COSTSIM_FEED_QUEUE_SIZE")
	setDuration(&cfg.Feed.BackoffBase, "COSTSIM_FEED_BACKOFF_BASE")
	setFloat64(&cfg.Feed.BackoffMultiplier, "COSTSIM_FEED_BACKOFF_MULTIPLIER")
	setDuration(&cfg.Feed.BackoffMax, "COSTSIM_FEED_BACKOFF_MAX")
	setFloat64(&cfg.Feed.BackoffJitter, "COSTSIM_FEED_BACKOFF_JITTER")

	// ── Book ──
	setInt(&cfg.Book.MaxDepth, "COSTSIM_BOOK_MAX_DEPTH")
	setInt(&cfg.Book.MetricsDepth, "COSTSIM_BOOK_METRICS_DEPTH")

	// ── Params ──
	setStr(&cfg.Params.OrderType, "COSTSIM_PARAMS_ORDER_TYPE")
	setFloat64(&cfg.Params.QuantityUSD, "COSTSIM_PARAMS_QUANTITY_USD")
	setFloat64(&cfg.Params.Volatility, "COSTSIM_PARAMS_VOLATILITY")
	setStr(&cfg.Params.FeeTier, "COSTSIM_PARAMS_FEE_TIER")
	setStr(&cfg.Params.Side, "COSTSIM_PARAMS_SIDE")

	// ── Slippage ──
	setInt(&cfg.Slippage.HistoryCapacity, "COSTSIM_SLIPPAGE_HISTORY_CAPACITY")
	setInt(&cfg.Slippage.TrainThreshold, "COSTSIM_SLIPPAGE_TRAIN_THRESHOLD")
	setStr(&cfg.Slippage.Strategy, "COSTSIM_SLIPPAGE_STRATEGY")
	setFloat64(&cfg.Slippage.Quantile, "COSTSIM_SLIPPAGE_QUANTILE")
	setFloat64(&cfg.Slippage.SafetyK, "COSTSIM_SLIPPAGE_SAFETY_K")
	setDuration(&cfg.Slippage.MaxBookAge, "COSTSIM_SLIPPAGE_MAX_BOOK_AGE")

	// ── Impact ──
	setFloat64(&cfg.Impact.Eta, "COSTSIM_IMPACT_ETA")
	setFloat64(&cfg.Impact.Gamma, "COSTSIM_IMPACT_GAMMA")
	setFloat64(&cfg.Impact.RiskAversion, "COSTSIM_IMPACT_RISK_AVERSION")
	setFloat64(&cfg.Impact.Exponent, "COSTSIM_IMPACT_EXPONENT")
	setFloat64(&cfg.Impact.ReferenceVolumeUSD, "COSTSIM_IMPACT_REFERENCE_VOLUME_USD")
	setFloat64(&cfg.Impact.ImbalanceSensitivity, "COSTSIM_IMPACT_IMBALANCE_SENSITIVITY")

	// ── Simulator ──
	setDuration(&cfg.Simulator.CacheTTL, "COSTSIM_SIMULATOR_CACHE_TTL")
	setDuration(&cfg.Simulator.TickInterval, "COSTSIM_SIMULATOR_TICK_INTERVAL")
	setInt(&cfg.Simulator.ObservationFlush, "COSTSIM_SIMULATOR_OBSERVATION_FLUSH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COSTSIM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COSTSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COSTSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COSTSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COSTSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COSTSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COSTSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COSTSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COSTSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COSTSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COSTSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COSTSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COSTSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COSTSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COSTSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COSTSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COSTSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COSTSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LiveTTL, "COSTSIM_REDIS_LIVE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COSTSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COSTSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COSTSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "COSTSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COSTSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COSTSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COSTSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COSTSIM_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "COSTSIM_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "COSTSIM_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.BatchLimit, "COSTSIM_ARCHIVE_BATCH_LIMIT")
	setInt(&cfg.Archive.RetentionDays, "COSTSIM_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COSTSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COSTSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COSTSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "COSTSIM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "COSTSIM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "COSTSIM_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "COSTSIM_MODE")
	setStr(&cfg.LogLevel, "COSTSIM_LOG_LEVEL")
	setStr(&cfg.LogFile, "COSTSIM_LOG_FILE")
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
