package config

// APIConfig contains the prioritization API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-client rate limiting of the history
// endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// Burst is the number of requests a client may make at once. Zero
	// allows a full minute's worth.
	Burst int `yaml:"burst,omitempty" mapstructure:"burst"`

	// TrustProxy keys clients by the first X-Forwarded-For address instead
	// of the connection's remote address.
	TrustProxy bool `yaml:"trust_proxy,omitempty" mapstructure:"trust_proxy"`
}

// EffectiveBurst returns Burst, or RequestsPerMinute when Burst is unset.
func (c RateLimitConfig) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}

	return c.RequestsPerMinute
}

// DatabaseConfig contains history database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings. An empty path
// resolves to the default history file in the user data directory.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// SyncConfig configures sharing the history file between machines.
type SyncConfig struct {
	S3 S3SyncConfig `yaml:"s3" mapstructure:"s3"`
}

// S3SyncConfig contains S3 settings for pushing and pulling history.
type S3SyncConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Key             string `yaml:"key,omitempty" mapstructure:"key"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}
