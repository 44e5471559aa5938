package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Port:           "8087",
		DBPath:         filepath.Join(dir, "kassenbuch.db"),
		ReceiptBaseDir: filepath.Join(dir, "Belege"),
		ExportFormat:   "csv",
		LogLevel:       slog.LevelInfo,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func TestValidateOK(t *testing.T) {
	if err := testConfig(t).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateBadPort(t *testing.T) {
	for _, port := range []string{"", "abc", "0", "70000"} {
		cfg := testConfig(t)
		cfg.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %q accepted", port)
		}
	}
}

func TestValidateBadExportFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExportFormat = "pdf"
	if err := cfg.Validate(); err == nil {
		t.Error("export format 'pdf' accepted")
	}
}

func TestValidateCreatesDirectories(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReceiptBaseDir = filepath.Join(t.TempDir(), "nested", "Belege")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate should create missing directories: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port == "" || cfg.DBPath == "" || cfg.ReceiptBaseDir == "" {
		t.Fatalf("defaults missing: %+v", cfg)
	}
	if filepath.Base(cfg.DBPath) != "kassenbuch.db" {
		t.Errorf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.ExportFormat != "csv" {
		t.Errorf("unexpected default export format %q", cfg.ExportFormat)
	}
}
