package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// normalize canonicalizes enumerated values so every consumer sees one spelling.
func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxRequestBytes <= 0 {
		errs = append(errs, "SERVER_MAX_REQUEST_BYTES must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must be non-negative")
	}

	// Intake validation
	if c.Intake.MaxFileSize < 0 {
		errs = append(errs, "INTAKE_MAX_FILE_SIZE must be non-negative")
	}
	if c.Intake.MaxFiles <= 0 {
		errs = append(errs, "INTAKE_MAX_FILES must be positive")
	}
	if c.Intake.ProgressStep <= 0 || c.Intake.ProgressStep > 100 {
		errs = append(errs, fmt.Sprintf("INTAKE_PROGRESS_STEP (%d) must be 1-100", c.Intake.ProgressStep))
	}
	if c.Intake.ProgressInterval <= 0 {
		errs = append(errs, "INTAKE_PROGRESS_INTERVAL must be positive")
	}
	if c.Intake.MaxConcurrent <= 0 {
		errs = append(errs, "INTAKE_MAX_CONCURRENT must be positive")
	}
	if c.Intake.MaxWaitTime <= 0 {
		errs = append(errs, "INTAKE_MAX_WAIT_TIME must be positive")
	}
	if c.Intake.SessionTTL <= 0 {
		errs = append(errs, "INTAKE_SESSION_TTL must be positive")
	}

	// Storage validation
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.DataDir == "" {
			errs = append(errs, "STORAGE_DATA_DIR is required for the fs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, "S3_BUCKET is required for the s3 backend")
		}
		if c.Storage.S3.Region == "" {
			errs = append(errs, "S3_REGION is required for the s3 backend")
		}
		if (c.Storage.S3.AccessKey == "") != (c.Storage.S3.SecretKey == "") {
			errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: fs, s3", c.Storage.Backend))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Storage credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Intake: {MaxFileSize: %d, Accept: %q, Multiple: %v, MaxFiles: %d, MaxConcurrent: %d}, ",
		c.Intake.MaxFileSize, c.Intake.Accept, c.Intake.Multiple, c.Intake.MaxFiles, c.Intake.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Storage: {Backend: %q, Bucket: %q, AccessKey: %s, SecretKey: %s}, ",
		c.Storage.Backend, c.Storage.S3.Bucket, mask(c.Storage.S3.AccessKey), mask(c.Storage.S3.SecretKey)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
