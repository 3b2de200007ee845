package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the application process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// DatabaseConfig carries the three descriptor resolution layers side by side.
// Resolve picks exactly one; the layers are never merged. Port is a string so
// that a non-numeric value injected via environment fails validation instead
// of silently unmarshalling to zero.
type DatabaseConfig struct {
	// URL is the highest-precedence layer: a complete driver DSN, normally
	// injected as TWOTIER_DATABASE_URL.
	URL string `mapstructure:"url"`
	// Service is a resolvable service name combined with the default port.
	Service string `mapstructure:"service"`
	// Literal address block, the lowest-precedence layer.
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// CacheConfig configures the optional Redis read-through cache. The cache is
// disabled unless Addr is set.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type BootstrapConfig struct {
	// Timeout is the overall readiness budget for one bootstrap attempt.
	Timeout time.Duration `mapstructure:"timeout"`
	// ProbeInterval is the initial backoff interval between probe attempts.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// ProbeMaxInterval caps the exponential backoff growth.
	ProbeMaxInterval time.Duration `mapstructure:"probe_max_interval"`
	// AttemptTimeout bounds each individual connect+ping attempt.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// ReconnectTimeout is the readiness budget when the connection manager
	// replaces a stale handle during normal operation.
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the TWOTIER_ prefix (e.g. TWOTIER_SERVER_PORT,
// TWOTIER_DATABASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TWOTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Telemetry is off unless an endpoint is configured.
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "two-tier-app")
	v.SetDefault("telemetry.log_level", "info")

	// Every database key must be registered for AutomaticEnv to pick it up:
	// viper only unmarshals keys it knows about, and env variables alone do
	// not register a key.
	v.SetDefault("database.url", "")
	v.SetDefault("database.service", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")

	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("bootstrap.timeout", 2*time.Minute)
	v.SetDefault("bootstrap.probe_interval", 500*time.Millisecond)
	v.SetDefault("bootstrap.probe_max_interval", 10*time.Second)
	v.SetDefault("bootstrap.attempt_timeout", 3*time.Second)
	v.SetDefault("bootstrap.reconnect_timeout", 15*time.Second)
}
