package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/platinummonkey/catalog/pkg/observability"
)

// MemoryDatabaseURL selects the in-process product store
const MemoryDatabaseURL = "memory://"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Tracing       TracingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            string        `envconfig:"PORT" default:"5000"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	// SlowEndpointDelay is the /slow response delay in seconds
	SlowEndpointDelay float64 `envconfig:"SLOW_ENDPOINT_DELAY" default:"5"`
}

// DatabaseConfig holds product store configuration
type DatabaseConfig struct {
	URL         string `envconfig:"DATABASE_URL" default:"postgresql://postgres:postgres@db:5432/products_db?sslmode=disable"`
	PoolSize    int    `envconfig:"DB_POOL_SIZE" default:"10"`
	MaxOverflow int    `envconfig:"DB_MAX_OVERFLOW" default:"20"`
	// PoolRecycle is the connection max lifetime in seconds
	PoolRecycle int `envconfig:"DB_POOL_RECYCLE" default:"3600"`
}

// CacheConfig holds product cache configuration. An empty RedisURL keeps
// only the in-process tier.
type CacheConfig struct {
	RedisURL   string        `envconfig:"REDIS_URL"`
	TTL        time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	MaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"1024"`
}

// TracingConfig holds tracer settings
type TracingConfig struct {
	Enabled      bool    `envconfig:"TRACING_ENABLED" default:"true"`
	ServiceName  string  `envconfig:"JAEGER_SERVICE_NAME" default:"backend-service"`
	SamplerType  string  `envconfig:"JAEGER_SAMPLER_TYPE" default:"const"`
	SamplerParam float64 `envconfig:"JAEGER_SAMPLER_PARAM" default:"1"`
	AgentHost    string  `envconfig:"JAEGER_AGENT_HOST" default:"jaeger"`
	AgentPort    string  `envconfig:"JAEGER_AGENT_PORT" default:"4317"`
	Insecure     bool    `envconfig:"OTEL_INSECURE" default:"true"`
}

// ObservabilityConfig holds logging, metrics and health settings
type ObservabilityConfig struct {
	LogLevel              string        `envconfig:"LOG_LEVEL" default:"info"`
	ServiceName           string        `envconfig:"SERVICE_NAME" default:"backend"`
	ServiceVersion        string        `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	OTelMetricsEnabled    bool          `envconfig:"OTEL_METRICS_ENABLED" default:"false"`
	HealthProbeTimeout    time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"5s"`
	PoolCollectorSchedule string        `envconfig:"POOL_COLLECTOR_SCHEDULE" default:"@every 15s"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.SlowEndpointDelay < 0 {
		return fmt.Errorf("slow endpoint delay must not be negative")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database pool size must be positive")
	}
	if c.Database.MaxOverflow < 0 {
		return fmt.Errorf("database max overflow must not be negative")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	switch strings.ToLower(c.Tracing.SamplerType) {
	case observability.SamplerConst, observability.SamplerProbabilistic, observability.SamplerRateLimiting:
	default:
		return fmt.Errorf("invalid sampler type: %s (must be const, probabilistic, or ratelimiting)", c.Tracing.SamplerType)
	}
	if c.Tracing.Enabled && c.Tracing.AgentHost == "" {
		return fmt.Errorf("tracing agent host is required when tracing is enabled")
	}

	if c.Observability.HealthProbeTimeout <= 0 {
		return fmt.Errorf("health probe timeout must be positive")
	}

	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// UsesMemoryStore reports whether DATABASE_URL selects the in-process store
func (c *Config) UsesMemoryStore() bool {
	return strings.HasPrefix(c.Database.URL, MemoryDatabaseURL)
}

// PoolRecycle returns the connection max lifetime
func (c *Config) PoolRecycle() time.Duration {
	return time.Duration(c.Database.PoolRecycle) * time.Second
}

// TracingEndpoint returns the OTLP collector address
func (c *Config) TracingEndpoint() string {
	return net.JoinHostPort(c.Tracing.AgentHost, c.Tracing.AgentPort)
}

// LogLevel returns the parsed logger level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// OTel returns the tracer and meter provider settings
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		TracingEnabled: c.Tracing.Enabled,
		MetricsEnabled: c.Observability.OTelMetricsEnabled,
		Endpoint:       c.TracingEndpoint(),
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: c.Observability.ServiceVersion,
		Insecure:       c.Tracing.Insecure,
		Sampler: observability.SamplerConfig{
			Type:  c.Tracing.SamplerType,
			Param: c.Tracing.SamplerParam,
		},
	}
}
