package platform

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration of the estimator. Values come from
// defaults, then an optional YAML file, then ROADCOST_* environment
// variables (nested keys joined by underscores).
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Pipeline struct {
		Strict      bool          `mapstructure:"strict"`
		Parallelism int           `mapstructure:"parallelism"`
		CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"pipeline"`

	Store struct {
		// Driver is one of sqlite, postgres, clickhouse or none.
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	ClickHouse struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Database string `mapstructure:"database"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"clickhouse"`

	Retry RetryConfig `mapstructure:"retry"`

	Gemini struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"gemini"`

	Catalog struct {
		GeMURL        string        `mapstructure:"gem_url"`
		CPWDURL       string        `mapstructure:"cpwd_url"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"catalog"`

	Reference struct {
		// Path is a local file or an s3://bucket/key URI.
		Path   string `mapstructure:"path"`
		Region string `mapstructure:"region"`
	} `mapstructure:"reference"`
}

// RetryConfig is the serializable form of a RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// Policy converts the config into a RetryPolicy.
func (r RetryConfig) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

var defaults = map[string]any{
	"log_level":               "info",
	"pipeline.strict":         false,
	"pipeline.parallelism":    4,
	"pipeline.cache_ttl":      24 * time.Hour,
	"store.driver":            "sqlite",
	"store.dsn":               "roadcost.db",
	"clickhouse.host":         "localhost",
	"clickhouse.port":         9000,
	"clickhouse.database":     "roadcost",
	"clickhouse.username":     "default",
	"clickhouse.password":     "",
	"retry.max_attempts":      3,
	"retry.base_delay":        200 * time.Millisecond,
	"retry.max_delay":         5 * time.Second,
	"retry.jitter":            0.2,
	"gemini.api_key":          "",
	"gemini.model":            "gemini-1.5-flash",
	"catalog.gem_url":         "",
	"catalog.cpwd_url":        "",
	"catalog.rate_per_second": 1.0,
	"catalog.timeout":         15 * time.Second,
	"reference.path":          "",
	"reference.region":        "ap-south-1",
}

// Load reads configuration. An empty path skips the file; a missing file
// at an explicit path is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("ROADCOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, err
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if c.Pipeline.Parallelism < 1 {
		return c, errors.New("pipeline.parallelism must be at least 1")
	}
	return c, nil
}
