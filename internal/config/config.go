// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// Variable names are the section prefix joined to the field key, for example
// SERVER_PORT or UPLOAD_MAX_CONCURRENT. When the prefixed name is unset the
// bare field key is consulted as a fallback (TRUSTED_PROXIES, REDIS_URL).
package config

import (
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Store     StoreConfig     `envconfig:"STORE"`
	Upload    UploadConfig    `envconfig:"UPLOAD"`
	Rate      RateLimitConfig `envconfig:"RATE_LIMIT"`
	Security  SecurityConfig  `envconfig:"SECURITY"`
	Logging   LoggingConfig   `envconfig:"LOG"`
	Cache     CacheConfig     `envconfig:"CACHE"`
	Telemetry TelemetryConfig `envconfig:"OTEL"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to.
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	Port int `envconfig:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request, body included.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`

	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"2m"`

	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, upload draining included.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for report requests.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as a
	// fallback. Required when the store driver is postgres.
	URL string `envconfig:"URL"`

	MaxConns int `envconfig:"MAX_CONNS" default:"20"`

	MinConns int `envconfig:"MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`

	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate creates the snapshot tables on startup when they are missing.
	Migrate bool `envconfig:"MIGRATE" default:"true"`
}

// StoreConfig selects the snapshot store implementation.
type StoreConfig struct {
	// Driver is postgres or memory.
	Driver string `envconfig:"DRIVER" default:"postgres"`
}

// UploadConfig holds upload processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum request body size in bytes (default: 16MB).
	MaxFileSize int64 `envconfig:"MAX_FILE_SIZE" default:"16777216"`

	// MaxConcurrent is the number of files processed at once across batches.
	MaxConcurrent int `envconfig:"MAX_CONCURRENT" default:"6"`

	// MaxWaitTime is how long a batch waits for capacity.
	MaxWaitTime time.Duration `envconfig:"MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds one batch from decode to the last replace.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5m"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// RequestsPerMinute is the default limit per IP.
	RequestsPerMinute int `envconfig:"REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is requests per minute for upload endpoints.
	UploadLimit int `envconfig:"UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	EnableCSP bool `envconfig:"ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `envconfig:"LEVEL" default:"info"`

	// Format is text or json.
	Format string `envconfig:"FORMAT" default:"text"`
}

// CacheConfig holds report cache settings. An empty RedisURL disables caching.
type CacheConfig struct {
	RedisURL string `envconfig:"REDIS_URL"`

	TTL time.Duration `envconfig:"TTL" default:"10m"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"enrolment-analytics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
