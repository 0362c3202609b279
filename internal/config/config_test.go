package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// unsetForTest clears key for the test and restores it afterwards.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

var allKeys = []string{
	"HOST", "PORT", "NEXUS_MODE", "NEXUS_DB_PATH", "NEXUS_PROVIDERS_FILE",
	"NEXUS_ADMIN_PASSWORD", "NEXUS_VERBOSE", "NEXUS_HISTORY_SIZE",
	"NEXUS_MAX_ATTEMPTS", "NEXUS_REFRESH_INTERVAL", "NEXUS_SHUTDOWN_TIMEOUT",
}

func TestLoadDefaults(t *testing.T) {
	unsetForTest(t, allKeys...)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %s", cfg.Addr())
	}
	if cfg.DBPath != "nexus.db" || cfg.HistorySize != 200 || cfg.MaxAttempts != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.RefreshInterval != 15*time.Minute || cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("unexpected durations %+v", cfg)
	}
	if cfg.Verbose || cfg.AdminPassword != "" {
		t.Errorf("unexpected flags %+v", cfg)
	}
}

func TestLoadReleaseModePort(t *testing.T) {
	unsetForTest(t, allKeys...)
	t.Setenv("NEXUS_MODE", "release")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8086" {
		t.Errorf("Port = %s, want 8086", cfg.Port)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	unsetForTest(t, allKeys...)
	t.Setenv("PORT", "9999")

	envPath := filepath.Join(t.TempDir(), "test.env")
	content := "PORT=1234\nNEXUS_HISTORY_SIZE=50\nNEXUS_MAX_ATTEMPTS=3\nNEXUS_VERBOSE=yes\nNEXUS_ADMIN_PASSWORD=secret\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(envPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("env file overrode an existing variable: Port = %s", cfg.Port)
	}
	if cfg.HistorySize != 50 || cfg.MaxAttempts != 3 || !cfg.Verbose || cfg.AdminPassword != "secret" {
		t.Errorf("env file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"NEXUS_HISTORY_SIZE", "lots"},
		{"NEXUS_HISTORY_SIZE", "0"},
		{"NEXUS_MAX_ATTEMPTS", "-1"},
		{"NEXUS_REFRESH_INTERVAL", "often"},
		{"NEXUS_SHUTDOWN_TIMEOUT", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			unsetForTest(t, allKeys...)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
