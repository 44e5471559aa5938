package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const appDirName = "kassenbuch"

type Config struct {
	// HTTP Server
	Port string

	// Database
	DBPath string

	// Receipts
	ReceiptBaseDir string

	// Export
	ExportFormat string // "csv" or "xlsx" (xlsx writes both tables)

	// Logging
	LogLevel slog.Level

	// Server timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads configuration from the environment. The database file and
// the receipt tree default to a per-user application-data directory so
// they survive relocation of the binary.
func Load() *Config {
	base := appDataDir()
	return &Config{
		Port:           getEnv("PORT", "8087"),
		DBPath:         getEnv("KASSENBUCH_DB_PATH", filepath.Join(base, "kassenbuch.db")),
		ReceiptBaseDir: getEnv("KASSENBUCH_RECEIPT_DIR", filepath.Join(base, "Belege")),
		ExportFormat:   getEnv("KASSENBUCH_EXPORT_FORMAT", "csv"),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
		ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
	}
}

// appDataDir resolves the well-known per-user location. It never depends
// on the executable's own path.
func appDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + string(filepath.Separator) + appDirName
	}
	return filepath.Join(home, "."+appDirName)
}

// Validate checks the configuration and aggregates every problem into a
// single error.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		problems = append(problems, "database path cannot be empty")
	} else if err := ensureDir(filepath.Dir(c.DBPath)); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create database directory: %v", err))
	}

	if c.ReceiptBaseDir == "" {
		problems = append(problems, "receipt base directory cannot be empty")
	} else if err := ensureDir(c.ReceiptBaseDir); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create receipt directory: %v", err))
	}

	switch c.ExportFormat {
	case "csv", "xlsx":
	default:
		problems = append(problems, fmt.Sprintf("invalid export format '%s': must be 'csv' or 'xlsx'", c.ExportFormat))
	}

	if c.ReadTimeout < time.Second || c.WriteTimeout < time.Second {
		problems = append(problems, "server timeouts must be at least 1 second")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
