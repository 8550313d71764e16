package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Addr      string `env:"ADDR" default:":8080"`
	DBDSN     string `env:"DB_DSN"`
	JWTSecret string `env:"JWT_SECRET"`
	RedisAddr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// Chat
	HistoryLimit   int           `env:"HISTORY_LIMIT" default:"50"`
	SendTimeout    time.Duration `env:"SEND_TIMEOUT" default:"10s"`
	FallbackWindow time.Duration `env:"FALLBACK_WINDOW" default:"30s"`

	// Clients
	BaseURL string `env:"BASE_URL" default:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig reads .env (if present) and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	loadEnvString(&c.Addr, "ADDR", ":8080")
	loadEnvString(&c.DBDSN, "DB_DSN", "")
	loadEnvString(&c.JWTSecret, "JWT_SECRET", "")
	loadEnvString(&c.RedisAddr, "REDIS_ADDR", "localhost:6379")
	loadEnvString(&c.BaseURL, "BASE_URL", "http://localhost:8080")
	loadEnvString(&c.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&c.LogFormat, "LOG_FORMAT", "text")

	if err := loadEnvInt(&c.HistoryLimit, "HISTORY_LIMIT", 50); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&c.SendTimeout, "SEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&c.FallbackWindow, "FALLBACK_WINDOW", 30*time.Second); err != nil {
		return nil, err
	}
	return c, nil
}

func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks the settings every binary needs.
func (c *Config) Validate() error {
	var errs []string

	if c.HistoryLimit < 1 || c.HistoryLimit > 500 {
		errs = append(errs, "HISTORY_LIMIT must be between 1 and 500")
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, "SEND_TIMEOUT must be positive")
	}
	if !contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	if !contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateServer additionally requires the secrets the chat server runs with.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET should be at least 32 characters long")
	}
	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
