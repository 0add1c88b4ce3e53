package ratekit

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, read from RATEKIT_* environment
// variables. It covers the store connection, the default limit applied when
// no configuration matches, cache tuning, and the failure policy.
type Config struct {
	ListenAddr string `split_words:"true" default:":8080"`

	RedisHost     string `split_words:"true" default:"localhost"`
	RedisPort     int    `split_words:"true" default:"6379"`
	RedisPassword string `split_words:"true"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	CommandTimeout time.Duration `split_words:"true" default:"500ms"`

	PoolMaxActive int           `split_words:"true" default:"64"`
	PoolMaxIdle   int           `split_words:"true" default:"16"`
	PoolMinIdle   int           `split_words:"true" default:"4"`
	PoolMaxWait   time.Duration `split_words:"true" default:"1s"`

	DefaultCapacity            int64   `split_words:"true" default:"100"`
	DefaultRefillRate          float64 `split_words:"true" default:"100"`
	DefaultRefillPeriodSeconds int64   `split_words:"true" default:"60"`

	CacheConfigTTLSeconds int  `envconfig:"CACHE_CONFIG_TTL_SECONDS" default:"60"`
	CacheMaxSize          int  `split_words:"true" default:"10000"`
	CacheEnableStats      bool `split_words:"true" default:"true"`

	FailOpen        bool `split_words:"true" default:"true"`
	MetricsEnabled  bool `split_words:"true" default:"true"`
	DetailedLogging bool `split_words:"true" default:"false"`
}

// LoadConfig reads the process configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("ratekit", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.DefaultCapacity <= 0 {
		return errors.New("default capacity must be positive")
	}
	if c.DefaultRefillRate <= 0 {
		return errors.New("default refill rate must be positive")
	}
	if c.DefaultRefillPeriodSeconds <= 0 {
		return errors.New("default refill period must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command timeout must be positive")
	}
	return nil
}
