package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Geocode   GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Cache     CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Geography GeographyConfig  `yaml:"geography" mapstructure:"geography"`
	Fuzzy     FuzzyConfig      `yaml:"fuzzy" mapstructure:"fuzzy"`
	Pipeline  PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Sources   SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitor   MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
}

// GeocodeConfig configures the geocoding provider and its resilience wrapping.
type GeocodeConfig struct {
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey             string  `yaml:"api_key" mapstructure:"api_key"`
	Country            string  `yaml:"country" mapstructure:"country"`
	FallbackCity       string  `yaml:"fallback_city" mapstructure:"fallback_city"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	StreetNumberPrefix string  `yaml:"street_number_prefix" mapstructure:"street_number_prefix"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold   int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs   int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	MaxQueuedRetries   int     `yaml:"max_queued_retries" mapstructure:"max_queued_retries"`
}

// CacheConfig configures the two geocode caches.
type CacheConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	StreetTable    string `yaml:"street_table" mapstructure:"street_table"`
	AddressTable   string `yaml:"address_table" mapstructure:"address_table"`
	HistoryDir     string `yaml:"history_dir" mapstructure:"history_dir"`
	HistoryPattern string `yaml:"history_pattern" mapstructure:"history_pattern"`
}

// GeographyConfig points at the neighborhood and preference polygon sets.
type GeographyConfig struct {
	NeighborhoodsPath    string `yaml:"neighborhoods_path" mapstructure:"neighborhoods_path"`
	NeighborhoodProperty string `yaml:"neighborhood_property" mapstructure:"neighborhood_property"`
	PreferencesPath      string `yaml:"preferences_path" mapstructure:"preferences_path"`
	PreferenceProperty   string `yaml:"preference_property" mapstructure:"preference_property"`
}

// FuzzyConfig configures street-name fuzzy matching.
type FuzzyConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	RunTimeoutMins int    `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
	Malformed      string `yaml:"malformed" mapstructure:"malformed"`
}

// SourcesConfig locates the per-source registry file.
type SourcesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// AllowedOrigins enables CORS on the read API for these origins.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RetryBacklogThreshold int     `yaml:"retry_backlog_threshold" mapstructure:"retry_backlog_threshold"`
	SkipRateThreshold     float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings a command mode depends on. Modes: run,
// geocode, serve, read.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "csv":
		if c.Store.DataDir == "" {
			errs = append(errs, "store.data_dir is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, csv", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case "", "sqlite", "postgres", "csv":
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q is not one of sqlite, postgres, csv", c.Cache.Driver))
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 64")
	}
	if c.Pipeline.RunTimeoutMins < 0 {
		errs = append(errs, "pipeline.run_timeout_mins must be >= 0")
	}
	switch c.Pipeline.Malformed {
	case "skip", "fail":
	default:
		errs = append(errs, fmt.Sprintf("pipeline.malformed %q is not one of skip, fail", c.Pipeline.Malformed))
	}
	if c.Fuzzy.Threshold < 0 || c.Fuzzy.Threshold > 100 {
		errs = append(errs, "fuzzy.threshold must be between 0 and 100")
	}
	if c.Monitor.FailureRateThreshold < 0 || c.Monitor.FailureRateThreshold > 1 ||
		c.Monitor.SkipRateThreshold < 0 || c.Monitor.SkipRateThreshold > 1 {
		errs = append(errs, "monitoring rate thresholds must be between 0 and 1")
	}

	switch mode {
	case "run", "geocode":
		if c.Geocode.APIKey == "" {
			errs = append(errs, "geocode.api_key is required")
		}
		if c.Geocode.RatePerSec <= 0 {
			errs = append(errs, "geocode.rate_per_sec must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "read":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from .env files, config.yaml and environment.
func Load() (*Config, error) {
	// Secrets such as GEOCODE_API live in .env; existing env vars win.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The parser tooling exports the key as GEOCODE_API.
	_ = v.BindEnv("geocode.api_key", "LISTINGS_GEOCODE_API_KEY", "GEOCODE_API")

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("geocode.base_url", "https://geocode.maps.co")
	v.SetDefault("geocode.country", "NL")
	v.SetDefault("geocode.fallback_city", "Amsterdam")
	v.SetDefault("geocode.rate_per_sec", 1.0)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.street_number_prefix", "1")
	v.SetDefault("geocode.max_attempts", 3)
	v.SetDefault("geocode.initial_backoff_ms", 500)
	v.SetDefault("geocode.max_backoff_ms", 10000)
	v.SetDefault("geocode.failure_threshold", 5)
	v.SetDefault("geocode.reset_timeout_secs", 60)
	v.SetDefault("geocode.max_queued_retries", 5)
	v.SetDefault("cache.driver", "")
	v.SetDefault("cache.street_table", "geocoded_streets")
	v.SetDefault("cache.address_table", "geocoded_addresses")
	v.SetDefault("cache.history_pattern", `^makelaar_scrape_output_\d{4}-\d{2}-\d{2}\.csv$`)
	v.SetDefault("geography.neighborhood_property", "neighborhood")
	v.SetDefault("geography.preference_property", "preference")
	v.SetDefault("fuzzy.threshold", 85.0)
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.run_timeout_mins", 30)
	v.SetDefault("pipeline.malformed", "skip")
	v.SetDefault("sources.path", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.retry_backlog_threshold", 50)
	v.SetDefault("monitoring.skip_rate_threshold", 0.2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// An empty cache driver follows the store.
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = cfg.Store.Driver
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
