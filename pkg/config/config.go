package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "TESTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is the default history database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultFailureWeight is the score weight of a single recorded failure.
	// It is large enough that one failure outranks any plausible average
	// duration in milliseconds.
	DefaultFailureWeight = 10000

	// DefaultRunNameEnv is the environment variable read for a run's name.
	DefaultRunNameEnv = "TESTOOR_RUN_NAME"

	// DefaultCoverageConcurrency bounds concurrent coverage shrinking.
	DefaultCoverageConcurrency = 4

	// DefaultAPIListen is the default listen address for the API server.
	DefaultAPIListen = ":8080"

	// DefaultSyncKey is the default object key for the shared history file.
	DefaultSyncKey = "testoor/result-history.sqlite3"
)

// Config is the root configuration for testoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	History  HistoryConfig  `yaml:"history" mapstructure:"history"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// HistoryConfig controls how recorded outcomes are scored and labelled.
type HistoryConfig struct {
	FailureWeight int64  `yaml:"failure_weight" mapstructure:"failure_weight"`
	RunNameEnv    string `yaml:"run_name_env" mapstructure:"run_name_env"`
}

// CoverageConfig controls coverage shrinking for passing tests.
type CoverageConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Concurrency int  `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// Load reads a configuration file and applies TESTOOR_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// leaf key is registered up front.
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnvKeys registers every mapstructure leaf key of t with viper.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct {
			bindEnvKeys(v, ft, key)

			continue
		}

		_ = v.BindEnv(key)
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.History.FailureWeight == 0 {
		c.History.FailureWeight = DefaultFailureWeight
	}

	if c.History.RunNameEnv == "" {
		c.History.RunNameEnv = DefaultRunNameEnv
	}

	if c.Coverage.Concurrency <= 0 {
		c.Coverage.Concurrency = DefaultCoverageConcurrency
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultAPIListen
	}

	if c.Sync.S3.Key == "" {
		c.Sync.S3.Key = DefaultSyncKey
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for the postgres driver")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.History.FailureWeight < 0 {
		return fmt.Errorf("history.failure_weight must not be negative")
	}

	if c.API.Server.RateLimit.Enabled &&
		c.API.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.server.rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.API.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("api.server.rate_limit.burst must not be negative")
	}

	return nil
}

// ValidateSync checks that S3 history sync is usable.
func (c *Config) ValidateSync() error {
	if !c.Sync.S3.Enabled {
		return fmt.Errorf("sync.s3 is not enabled")
	}

	if c.Sync.S3.Bucket == "" {
		return fmt.Errorf("sync.s3.bucket is required")
	}

	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("history sync requires the sqlite driver, got %q", c.Database.Driver)
	}

	return nil
}
