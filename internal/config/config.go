package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort            = 8080
	DefaultMaxSessions     = 3
	DefaultAccessTokenTTL  = "24h"
	DefaultRefreshTokenTTL = "7d"
	DefaultRedisAddr       = "localhost:6379"
	DefaultBodyLimitBytes  = 10 * 1024 * 1024
	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 60
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Env         string
	Host        string
	Port        int
	LogLevel    string
	CorsOrigins string
	BodyLimit   int
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MaxSessions      int
	CsrfSecret       string
	IPEnforcement    string
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

func Load() (*Config, error) {
	accessTTL, err := parseTTL(getEnv("JWT_EXPIRES_IN", DefaultAccessTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
	}
	refreshTTL, err := parseTTL(getEnv("JWT_REFRESH_EXPIRES_IN", DefaultRefreshTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRES_IN: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Env:         getEnv("APP_ENV", "development"),
			Host:        getEnv("HOST", "0.0.0.0"),
			Port:        getEnvInt("PORT", DefaultPort),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			CorsOrigins: getEnv("CORS_ORIGINS", ""),
			BodyLimit:   getEnvInt("BODY_LIMIT_BYTES", DefaultBodyLimitBytes),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", DefaultRedisAddr),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("JWT_SECRET", ""),
			JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenTTL:   accessTTL,
			RefreshTokenTTL:  refreshTTL,
			MaxSessions:      getEnvInt("MAX_CONCURRENT_SESSIONS", DefaultMaxSessions),
			CsrfSecret:       getEnv("CSRF_SECRET", ""),
			IPEnforcement:    getEnv("AUTH_IP_ENFORCEMENT", "flag"),
			RateLimitMax:     getEnvInt("AUTH_RATE_LIMIT_MAX", DefaultRateLimitMax),
			RateLimitWindow:  time.Duration(getEnvInt("AUTH_RATE_LIMIT_WINDOW", DefaultRateLimitWindow)) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}
	if c.Auth.CsrfSecret == "" {
		return fmt.Errorf("CSRF_SECRET is required")
	}
	if c.Auth.MaxSessions <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive")
	}
	switch c.Auth.IPEnforcement {
	case "flag", "block":
	default:
		return fmt.Errorf("AUTH_IP_ENFORCEMENT must be 'flag' or 'block', got %q", c.Auth.IPEnforcement)
	}
	return nil
}

// parseTTL accepts Go duration strings plus a day suffix ("7d") that token
// TTLs are conventionally written with.
func parseTTL(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
