// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/intake/internal/intake"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server  ServerConfig
	Intake  IntakeConfig
	Storage StorageConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// MaxRequestBytes caps multipart request bodies (default: 512MB)
	MaxRequestBytes int64 `env:"SERVER_MAX_REQUEST_BYTES" envDefault:"536870912"`

	// RateLimit is requests per minute per client IP, 0 to disable (default: 120)
	RateLimit int `env:"SERVER_RATE_LIMIT" envDefault:"120"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// IntakeConfig holds the acceptance rules and upload run settings.
type IntakeConfig struct {
	// MaxFileSize is the per-file byte limit, 0 for none (default: 100MB)
	MaxFileSize int64 `env:"INTAKE_MAX_FILE_SIZE" envDefault:"104857600"`

	// Accept is the media-type pattern list (default: *)
	Accept string `env:"INTAKE_ACCEPT" envDefault:"*"`

	// Multiple allows more than one file per session (default: true)
	Multiple bool `env:"INTAKE_MULTIPLE" envDefault:"true"`

	// MaxFiles is the accepted-count limit per session (default: 5)
	MaxFiles int `env:"INTAKE_MAX_FILES" envDefault:"5"`

	// Preview enables local image previews (default: true)
	Preview bool `env:"INTAKE_PREVIEW" envDefault:"true"`

	// ProgressStep is the simulated progress added per tick (default: 10)
	ProgressStep int `env:"INTAKE_PROGRESS_STEP" envDefault:"10"`

	// ProgressInterval is the simulated progress cadence (default: 200ms)
	ProgressInterval time.Duration `env:"INTAKE_PROGRESS_INTERVAL" envDefault:"200ms"`

	// AbortOnError stops a per-file run at its first failure (default: true)
	AbortOnError bool `env:"INTAKE_ABORT_ON_ERROR" envDefault:"true"`

	// MaxConcurrent is the maximum number of parallel upload runs (default: 5)
	MaxConcurrent int `env:"INTAKE_MAX_CONCURRENT" envDefault:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"INTAKE_MAX_WAIT_TIME" envDefault:"30s"`

	// SessionTTL is how long an idle session is kept (default: 30m)
	SessionTTL time.Duration `env:"INTAKE_SESSION_TTL" envDefault:"30m"`
}

// Constraints converts the intake settings into engine constraints.
func (c IntakeConfig) Constraints() intake.Constraints {
	return intake.Constraints{
		MaxFileSize: c.MaxFileSize,
		Accept:      c.Accept,
		Multiple:    c.Multiple,
		MaxFiles:    c.MaxFiles,
		Preview:     c.Preview,
	}
}

// StorageConfig selects and configures the upload sink.
type StorageConfig struct {
	// Backend is "fs" or "s3" (default: fs)
	Backend string `env:"STORAGE_BACKEND" envDefault:"fs"`

	// DataDir is where the fs backend writes files (default: ./data)
	DataDir string `env:"STORAGE_DATA_DIR" envDefault:"./data"`

	// PublicBaseURL prefixes returned references when set
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL"`

	S3 S3Config
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
