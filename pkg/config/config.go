package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const devJWTSecret = "library-service-dev-secret"

type Config struct {
	HTTPAddr string

	DB DBConfig

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	BcryptCost int

	LoanPeriodDays int
	FineDailyRate  decimal.Decimal
	BorrowLimit    int

	LogLevel  string
	LogFormat string
}

type DBConfig struct {
	Driver         string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	Path           string
	ConnectRetries int
	LogLevel       string
}

// Load reads the process environment once. Malformed numbers and durations are errors.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8060"),
		DB: DBConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "program"),
			Password: getEnv("DB_PASSWORD", "test"),
			Name:     getEnv("DB_NAME", "library"),
			Path:     getEnv("DB_PATH", "library.db"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWTSecret: getEnv("JWT_SECRET", devJWTSecret),
		JWTIssuer: getEnv("JWT_ISSUER", "library-service"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.DB.ConnectRetries, err = getInt("DB_CONNECT_RETRIES", 10); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}
	if cfg.LoanPeriodDays, err = getInt("LOAN_PERIOD_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.BorrowLimit, err = getInt("BORROW_LIMIT", 5); err != nil {
		return nil, err
	}
	rate := getEnv("FINE_DAILY_RATE", "1.00")
	if cfg.FineDailyRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("FINE_DAILY_RATE: invalid decimal %q", rate)
	}

	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.DB.Driver)
	}
	if cfg.LoanPeriodDays < 1 {
		return nil, fmt.Errorf("LOAN_PERIOD_DAYS: must be positive, got %d", cfg.LoanPeriodDays)
	}
	if cfg.FineDailyRate.IsNegative() {
		return nil, fmt.Errorf("FINE_DAILY_RATE: must not be negative")
	}
	return cfg, nil
}

// UsesDevSecret reports whether the built-in signing key is in effect.
func (c *Config) UsesDevSecret() bool {
	return c.JWTSecret == devJWTSecret
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
