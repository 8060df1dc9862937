package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const MinJWTSecretLength = 32

// SecurityConfig is fixed at startup and handed by value to the token
// service and limiters.
type SecurityConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	BcryptCost        int
	LoginMaxAttempts  int
	LoginWindow       time.Duration
	IPRateLimitMax    int
	IPRateLimitWindow time.Duration
	CookieSecure      bool
	// TrustProxyHeaders lets the IP limiter key on X-Forwarded-For. Only
	// enable behind a proxy that overwrites the header.
	TrustProxyHeaders bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RunMigrations   bool
}

type AdminConfig struct {
	Username string
	Email    string
	Password string
}

type MaintenanceConfig struct {
	CronSecret     string
	AuditRetention time.Duration
	BatchSize      int
}

type Config struct {
	AppEnv      string
	Port        string
	SentryDSN   string
	RedisURL    string
	Database    DatabaseConfig
	Security    SecurityConfig
	Admin       AdminConfig
	Maintenance MaintenanceConfig
}

type Options struct {
	LoadDotEnv bool
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	if len(jwtSecret) < MinJWTSecretLength {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}

	admin := AdminConfig{
		Username: envOrDefault("ADMIN_USERNAME", ""),
		Email:    envOrDefault("ADMIN_EMAIL", ""),
		Password: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
	}
	if (admin.Username == "") != (admin.Password == "") {
		return Config{}, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return Config{
		AppEnv:    envOrDefault("APP_ENV", "development"),
		Port:      envOrDefault("PORT", "8080"),
		SentryDSN: envOrDefault("SENTRY_DSN", ""),
		RedisURL:  envOrDefault("REDIS_URL", ""),
		Database: DatabaseConfig{
			URL:             databaseURL,
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			RunMigrations:   EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
		},
		Security: SecurityConfig{
			JWTSecret:         jwtSecret,
			TokenTTL:          envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 30),
			BcryptCost:        envIntOrDefault("BCRYPT_COST", 0),
			LoginMaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			LoginWindow:       envSecondsOrDefault("LOGIN_WINDOW_SECONDS", 300),
			IPRateLimitMax:    envIntOrDefault("LOGIN_IP_RATE_LIMIT_MAX", 20),
			IPRateLimitWindow: envSecondsOrDefault("LOGIN_IP_RATE_LIMIT_WINDOW_SECONDS", 60),
			CookieSecure:      EnvBoolOrDefault("COOKIE_SECURE", false),
			TrustProxyHeaders: EnvBoolOrDefault("TRUST_PROXY_HEADERS", false),
		},
		Admin: admin,
		Maintenance: MaintenanceConfig{
			CronSecret:     envOrDefault("CRON_SECRET", ""),
			AuditRetention: envDaysOrDefault("AUDIT_RETENTION_DAYS", 365),
			BatchSize:      envIntOrDefault("MAINTENANCE_BATCH_SIZE", 500),
		},
	}, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
