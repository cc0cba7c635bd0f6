package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", testKey)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.Env != "development" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Security.RateLimitWindow != 15*time.Minute || cfg.Security.RateLimitMaxRequests != 100 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.Security)
	}
	if cfg.Security.MaxLoginAttempts != 5 || cfg.Security.LockoutDuration != 30*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Security)
	}
	if !cfg.Security.EnableCSRFProtection || !cfg.Security.EnableCORS || !cfg.Security.EnableAuditLogging {
		t.Fatalf("protection toggles should default to on: %+v", cfg.Security)
	}
	if len(cfg.Security.AllowedOrigins) != 0 {
		t.Fatalf("allowed origins should default to unrestricted: %v", cfg.Security.AllowedOrigins)
	}
}

func TestLoadRequiresSigningKey(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error without a session signing key")
	}
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", "too-short")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("short signing key should fail validation, got %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", testKey)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9090"
  env: staging
security:
  rate_limit_max_requests: 25
  allowed_origins:
    - https://app.lektio.dev
    - "*.lektio.dev"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.Env != "staging" {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Security.RateLimitMaxRequests != 25 {
		t.Fatalf("file override not applied: %d", cfg.Security.RateLimitMaxRequests)
	}
	if len(cfg.Security.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.Security.AllowedOrigins)
	}
	// Untouched keys keep their defaults.
	if cfg.Security.SessionTTL != 12*time.Hour {
		t.Fatalf("default should survive partial file: %v", cfg.Security.SessionTTL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", testKey)
	t.Setenv("LEKTIO_SECURITY__MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("LEKTIO_SERVER__ADDR", ":7070")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env should override file, got %s", cfg.Server.Addr)
	}
	if cfg.Security.MaxLoginAttempts != 3 {
		t.Fatalf("env override not applied: %d", cfg.Security.MaxLoginAttempts)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", testKey)
	t.Setenv("LEKTIO_SERVER__ENV", "playground")

	if _, err := Load(""); err == nil {
		t.Fatalf("unknown environment name should fail validation")
	}
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	t.Setenv("LEKTIO_SECURITY__SESSION_SIGNING_KEY", testKey)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
}
