// Package config loads gateway settings from the environment and an optional .env file.
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
	// Server
	Host string // default: 127.0.0.1, set 0.0.0.0 for LAN access
	Port string // default: 8080, or 8086 when NEXUS_MODE=release

	// Storage
	DBPath string // default: nexus.db

	// Providers file; empty means search the usual locations.
	ProvidersFile string

	// Admin basic auth for /api; empty disables it.
	AdminPassword string

	Verbose bool

	// Translator history ring buffer capacity.
	HistorySize int

	// Upper bound on upstream attempts per request; 0 tries every candidate.
	MaxAttempts int

	// Interval of the background OAuth refresh loop.
	RefreshInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load reads files (".env" when none are given) into the environment without
// overriding variables that are already set, then builds a Config.
// Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	defaultPort := "8080"
	if os.Getenv("NEXUS_MODE") == "release" {
		defaultPort = "8086"
	}

	cfg := &Config{
		Host:          getEnv("HOST", "127.0.0.1"),
		Port:          getEnv("PORT", defaultPort),
		DBPath:        getEnv("NEXUS_DB_PATH", "nexus.db"),
		ProvidersFile: os.Getenv("NEXUS_PROVIDERS_FILE"),
		AdminPassword: os.Getenv("NEXUS_ADMIN_PASSWORD"),
		Verbose:       parseBool(os.Getenv("NEXUS_VERBOSE")),
	}

	var err error
	if cfg.HistorySize, err = getInt("NEXUS_HISTORY_SIZE", 200); err != nil {
		return nil, err
	}
	if cfg.HistorySize <= 0 {
		return nil, fmt.Errorf("invalid NEXUS_HISTORY_SIZE: must be positive")
	}
	if cfg.MaxAttempts, err = getInt("NEXUS_MAX_ATTEMPTS", 0); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("invalid NEXUS_MAX_ATTEMPTS: must not be negative")
	}
	if cfg.RefreshInterval, err = getDuration("NEXUS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("NEXUS_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return v, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
