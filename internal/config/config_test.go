package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"LockoutWindow", cfg.Lockout.Window, 30 * time.Minute},
		{"CleanupInterval", cfg.Cleanup.Interval, time.Hour},
		{"AccessTokenExpiry", cfg.Auth.AccessTokenExpiry, 15 * time.Minute},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Lockout.MaxFailedAttempts != 5 {
		t.Errorf("MaxFailedAttempts: got %d, want 5", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Redis.Enabled() || cfg.Kafka.Enabled() || cfg.Email.Enabled() {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestLoad_CustomLockoutPolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_WINDOW", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Lockout.MaxFailedAttempts != 3 {
		t.Errorf("MaxFailedAttempts: got %d, want 3", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.Window != 10*time.Minute {
		t.Errorf("Window: got %v, want 10m", cfg.Lockout.Window)
	}
}

func TestLoad_RejectsNonPositiveLockout(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_MAX_FAILED_ATTEMPTS", "0")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "LOCKOUT_MAX_FAILED_ATTEMPTS") {
		t.Errorf("expected lockout validation error, got %v", err)
	}
}

func TestLoad_RateLimit(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "20")
	t.Setenv("RATE_LIMIT_WINDOW", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.RateLimitRequests != 20 || cfg.Server.RateLimitWindow != 5*time.Minute {
		t.Errorf("rate limit = %d per %s, want 20 per 5m0s", cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow)
	}

	t.Setenv("RATE_LIMIT_WINDOW", "0s")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_WINDOW") {
		t.Errorf("expected rate limit window error, got %v", err)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout: got %v, want default 15s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_OptionalIntegrations(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("SES_FROM_ADDRESS", "security@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled")
	}
	if got := cfg.Kafka.Brokers; len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("Brokers: got %v", got)
	}
	if !cfg.Email.Enabled() {
		t.Error("email should be enabled")
	}
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")

	if _, err := Load(); err == nil {
		t.Error("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")
	if _, err := Load(); err == nil {
		t.Error("expected error without DB_PASSWORD")
	}
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"short in development", "short", "development", true},
		{"ok in development", "sixteen-chars-ok", "development", false},
		{"short for production", "sixteen-chars-ok", "production", true},
		{"long for production", strings.Repeat("k", 32), "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTSecret(tt.secret, tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateJWTSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BootstrapRequiresPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "root@example.com")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Error("expected error without BOOTSTRAP_ADMIN_PASSWORD")
	}

	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "Sup3r-Secret-Pass")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bootstrap.AdminEmail != "root@example.com" {
		t.Errorf("AdminEmail = %q", cfg.Bootstrap.AdminEmail)
	}
}
