// Package config loads the service configuration: struct defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/lektio/lektio/pkg/database"
)

const envPrefix = "LEKTIO_"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  database.Config `koanf:"database"`
	Security  SecurityConfig  `koanf:"security"`
	Directory DirectoryConfig `koanf:"directory"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr     string `koanf:"addr" validate:"required"`
	Env      string `koanf:"env" validate:"oneof=development staging production"`
	LogLevel string `koanf:"log_level"`
}

// SecurityConfig is the security pipeline's configuration surface.
type SecurityConfig struct {
	RateLimitWindow      time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitMaxRequests int           `koanf:"rate_limit_max_requests" validate:"gt=0"`
	EnableCSRFProtection bool          `koanf:"enable_csrf_protection"`
	EnableCORS           bool          `koanf:"enable_cors"`
	AllowedOrigins       []string      `koanf:"allowed_origins"`
	MaxLoginAttempts     int           `koanf:"max_login_attempts" validate:"gt=0"`
	LockoutDuration      time.Duration `koanf:"lockout_duration" validate:"gt=0"`
	EnableAuditLogging   bool          `koanf:"enable_audit_logging"`
	SessionSigningKey    string        `koanf:"session_signing_key" validate:"required,min=32"`
	SessionTTL           time.Duration `koanf:"session_ttl" validate:"gt=0"`
	LookupTimeout        time.Duration `koanf:"lookup_timeout" validate:"gt=0"`
	SweepInterval        time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

// DirectoryConfig locates the external user directory.
type DirectoryConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:     ":8080",
			Env:      "development",
			LogLevel: "info",
		},
		Database: database.Config{
			Host:    "localhost",
			Port:    5432,
			User:    "lektio",
			DBName:  "lektio",
			SSLMode: "disable",
		},
		Security: SecurityConfig{
			RateLimitWindow:      15 * time.Minute,
			RateLimitMaxRequests: 100,
			EnableCSRFProtection: true,
			EnableCORS:           true,
			AllowedOrigins:       nil, // empty means unrestricted
			MaxLoginAttempts:     5,
			LockoutDuration:      30 * time.Minute,
			EnableAuditLogging:   true,
			SessionSigningKey:    "", // must be provided
			SessionTTL:           12 * time.Hour,
			LookupTimeout:        3 * time.Second,
			SweepInterval:        time.Minute,
		},
		Directory: DirectoryConfig{
			BaseURL: "http://localhost:8081",
			Timeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and LEKTIO_* environment variables (LEKTIO_SECURITY__LOCKOUT_DURATION
// maps to security.lockout_duration).
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
