package config

import (
	"github.com/spf13/viper"
)

// Config stores all configuration for the service.
type Config struct {
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	// Crawl target.
	BaseURL string `mapstructure:"BASE_URL"`

	// Fetcher pacing and retry.
	RequestsPerMinute int `mapstructure:"REQUESTS_PER_MINUTE"`
	MaxRetries        int `mapstructure:"MAX_RETRIES"`
	BackoffBaseMS     int `mapstructure:"BACKOFF_BASE_MS"`
	FetchTimeoutSecs  int `mapstructure:"FETCH_TIMEOUT_SECONDS"`

	// Crawler shape.
	BatchSize       int `mapstructure:"BATCH_SIZE"`
	CrawlWorkers    int `mapstructure:"CRAWL_WORKERS"`
	MinBatchDelayMS int `mapstructure:"MIN_BATCH_DELAY_MS"`
	MaxBatchDelayMS int `mapstructure:"MAX_BATCH_DELAY_MS"`

	// Reconciliation policy.
	MarkupPercentage  float64 `mapstructure:"MARKUP_PERCENTAGE"`
	TaxRate           float64 `mapstructure:"TAX_RATE"`
	MaxPlausiblePrice float64 `mapstructure:"MAX_PLAUSIBLE_PRICE"`
	StrictResolve     bool    `mapstructure:"STRICT_RESOLVE"`
	RecheckTTLHours   int     `mapstructure:"RECHECK_TTL_HOURS"`
}

// Load reads configuration from a .env file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// The .env file is optional; production configures purely through
	// the environment.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BASE_URL", "https://acdc.co.za")
	viper.SetDefault("REQUESTS_PER_MINUTE", 30)
	viper.SetDefault("MAX_RETRIES", 4)
	viper.SetDefault("BACKOFF_BASE_MS", 500)
	viper.SetDefault("FETCH_TIMEOUT_SECONDS", 30)
	viper.SetDefault("BATCH_SIZE", 10)
	viper.SetDefault("CRAWL_WORKERS", 5)
	viper.SetDefault("MIN_BATCH_DELAY_MS", 2000)
	viper.SetDefault("MAX_BATCH_DELAY_MS", 4000)
	viper.SetDefault("MARKUP_PERCENTAGE", 10.0)
	viper.SetDefault("TAX_RATE", 0.15)
	viper.SetDefault("MAX_PLAUSIBLE_PRICE", 1_000_000)
	viper.SetDefault("STRICT_RESOLVE", false)
	viper.SetDefault("RECHECK_TTL_HOURS", 0)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
