package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ProviderConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
	// Category is the bybit market category ("linear", "spot", "inverse").
	Category string `mapstructure:"category"`
	Venue    string `mapstructure:"venue"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetcherConfig bounds the provider call rate and retry schedule.
type FetcherConfig struct {
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type CacheConfig struct {
	CandleCapacity    int `mapstructure:"candle_capacity"`
	IndicatorCapacity int `mapstructure:"indicator_capacity"`
	// LookbackBars is how many bars are fetched and kept per series.
	LookbackBars int `mapstructure:"lookback_bars"`
	// Stale overrides the per-interval staleness threshold, keyed by interval ("1m", "1d").
	Stale map[string]time.Duration `mapstructure:"stale"`
}

type SchedulerConfig struct {
	// Cadence overrides the per-interval polling cadence, keyed by interval.
	Cadence           map[string]time.Duration `mapstructure:"cadence"`
	ClosedFactor      float64                  `mapstructure:"closed_factor"`
	SuspendWhenClosed bool                     `mapstructure:"suspend_when_closed"`
	// Watch lists "TICKER:interval" pairs polled from startup.
	Watch []string `mapstructure:"watch"`
}

type AlertsConfig struct {
	TriggerRetention time.Duration `mapstructure:"trigger_retention"`
	CandleRetention  time.Duration `mapstructure:"candle_retention"`
	QueueSize        int           `mapstructure:"queue_size"`
}

type NotifyConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load loads application configuration using Viper.
// It reads config.yaml from the config directory and overrides with environment variables.
// A .env file in the working directory is applied to the environment first, if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	if dir := os.Getenv("ALERTENGINE_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}
	v.AddConfigPath("config")

	setDefaults(v)

	// Support environment variables with dot notation (e.g., FETCHER_MAX_ATTEMPTS)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads a single config file, for tools and tests.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.rest.base_url", "https://api.bybit.com")
	v.SetDefault("provider.rest.timeout", 10*time.Second)
	v.SetDefault("provider.ws.url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("provider.ws.timeout", 10*time.Second)
	v.SetDefault("provider.category", "linear")
	v.SetDefault("provider.venue", "bybit")

	v.SetDefault("fetcher.rate_per_second", 10.0)
	v.SetDefault("fetcher.burst", 10)
	v.SetDefault("fetcher.max_attempts", 5)
	v.SetDefault("fetcher.base_delay", time.Second)
	v.SetDefault("fetcher.max_delay", 30*time.Second)
	v.SetDefault("fetcher.attempt_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/alertengine.db")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.timezone", "UTC")

	v.SetDefault("cache.candle_capacity", 1024)
	v.SetDefault("cache.indicator_capacity", 4096)
	v.SetDefault("cache.lookback_bars", 500)

	v.SetDefault("scheduler.closed_factor", 10.0)

	v.SetDefault("alerts.trigger_retention", 90*24*time.Hour)
	v.SetDefault("alerts.queue_size", 1024)

	v.SetDefault("notify.redis.channel", "alertengine:triggers")
	v.SetDefault("notify.kafka.topic", "alert-triggers")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
}
