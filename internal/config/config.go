package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Lockout   LockoutConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Email     EmailConfig
	Cleanup   CleanupConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

type AuthConfig struct {
	JWTSecret          string
	Issuer             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	FailureDelay       time.Duration // minimum duration of a failed login response
	FailureJitter      time.Duration
}

// LockoutConfig drives the failed-attempt threshold and the lookback
// window shared by automatic and admin locks.
type LockoutConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
}

// RedisConfig is optional. An empty Addr keeps rate limiting in memory
// and disables the blacklist cache.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	BlacklistTTL time.Duration
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// KafkaConfig is optional. With no brokers audit events are only written
// to PostgreSQL and the structured log.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type EmailConfig struct {
	SESFromAddress string
	SESRegion      string
	SupportAddress string
}

func (c EmailConfig) Enabled() bool { return c.SESFromAddress != "" }

// CleanupConfig controls the maintenance loop. Zero Interval disables it.
type CleanupConfig struct {
	Interval time.Duration
}

// BootstrapConfig creates the first administrator at startup when
// AdminEmail is set.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 10),
			RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			Issuer:             getEnv("JWT_ISSUER", "gatekeeper"),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			FailureDelay:       getEnvAsDuration("LOGIN_FAILURE_DELAY", 250*time.Millisecond),
			FailureJitter:      getEnvAsDuration("LOGIN_FAILURE_JITTER", 100*time.Millisecond),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			Window:            getEnvAsDuration("LOCKOUT_WINDOW", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "gatekeeper"),
			BlacklistTTL: getEnvAsDuration("REDIS_BLACKLIST_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvAsList("KAFKA_BROKERS"),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "gatekeeper.audit-events"),
		},
		Email: EmailConfig{
			SESFromAddress: getEnv("SES_FROM_ADDRESS", ""),
			SESRegion:      getEnv("SES_REGION", "us-east-1"),
			SupportAddress: getEnv("SUPPORT_EMAIL", ""),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			AdminName:     getEnv("BOOTSTRAP_ADMIN_NAME", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Lockout.MaxFailedAttempts < 1 {
		return nil, fmt.Errorf("LOCKOUT_MAX_FAILED_ATTEMPTS must be positive (got %d)", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.Window <= 0 {
		return nil, fmt.Errorf("LOCKOUT_WINDOW must be positive (got %s)", cfg.Lockout.Window)
	}

	if cfg.Server.RateLimitRequests < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive (got %d)", cfg.Server.RateLimitRequests)
	}
	if cfg.Server.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive (got %s)", cfg.Server.RateLimitWindow)
	}

	if cfg.Bootstrap.AdminEmail != "" && cfg.Bootstrap.AdminPassword == "" {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD is required when BOOTSTRAP_ADMIN_EMAIL is set")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
