// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	LogLevel       slog.Level
	Store          StoreConfig
	Upload         UploadConfig
	Admin          AdminConfig

	PendingTTL           time.Duration // 0 disables the pending sweeper
	PendingSweepInterval time.Duration
	SendQueueSize        int
	ShutdownGrace        time.Duration
}

// StoreConfig selects the durable backend.
type StoreConfig struct {
	Driver     string
	DBPath     string
	PebblePath string
}

// UploadConfig controls the attachment upload endpoint.
type UploadConfig struct {
	Dir     string
	MaxSize uint64
}

// AdminConfig holds the reserved admin identity settings.
type AdminConfig struct {
	Name            string
	Password        string
	PasswordHash    string
	ConflictTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	maxSize, err := humanize.ParseBytes(getEnv("UPLOAD_MAX_SIZE", "100MB"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_SIZE: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:       level,
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
			DBPath:     getEnv("DB_PATH", "./data/chat.db"),
			PebblePath: getEnv("PEBBLE_PATH", "./data/chat.pebble"),
		},
		Upload: UploadConfig{
			Dir:     getEnv("UPLOAD_DIR", "./uploads"),
			MaxSize: maxSize,
		},
		Admin: AdminConfig{
			Name:            getEnv("ADMIN_NAME", "Admin"),
			Password:        getEnv("ADMIN_PASSWORD", ""),
			PasswordHash:    getEnv("ADMIN_PASSWORD_HASH", ""),
			ConflictTimeout: getEnvDuration("ADMIN_CONFLICT_TIMEOUT", 5*time.Second),
		},
		PendingTTL:           getEnvDuration("PENDING_TTL", 0),
		PendingSweepInterval: getEnvDuration("PENDING_SWEEP_INTERVAL", time.Minute),
		SendQueueSize:        getEnvInt("SEND_QUEUE_SIZE", 256),
		ShutdownGrace:        getEnvDuration("SHUTDOWN_GRACE", time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverPebble:
		if c.Store.PebblePath == "" {
			return fmt.Errorf("PEBBLE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPebble, c.Store.Driver)
	}
	if c.Upload.Dir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.Upload.MaxSize == 0 {
		return fmt.Errorf("UPLOAD_MAX_SIZE must be > 0")
	}
	if strings.TrimSpace(c.Admin.Name) == "" {
		return fmt.Errorf("ADMIN_NAME cannot be empty")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH must be set")
	}
	if c.Admin.ConflictTimeout <= 0 {
		return fmt.Errorf("ADMIN_CONFLICT_TIMEOUT must be > 0")
	}
	if c.PendingTTL < 0 {
		return fmt.Errorf("PENDING_TTL cannot be negative")
	}
	if c.PendingTTL > 0 && c.PendingSweepInterval <= 0 {
		return fmt.Errorf("PENDING_SWEEP_INTERVAL must be > 0 when PENDING_TTL is set")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be > 0")
	}
	return nil
}

// StorePath returns the on-disk location for the selected driver.
func (c *Config) StorePath() string {
	if c.Store.Driver == DriverPebble {
		return c.Store.PebblePath
	}
	return c.Store.DBPath
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
