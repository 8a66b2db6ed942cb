package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ferro-labs/agent-router/internal/configstore"
	"github.com/ferro-labs/agent-router/internal/usage"
)

// Store driver names accepted by USAGE_DB_DRIVER and CONFIG_STORE.
const (
	driverFile     = "file"
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// settings are the process-level options. Routing behaviour itself lives
// in the config store.
type settings struct {
	Port          string
	Home          string
	UsageDriver   string
	UsageDSN      string
	ConfigDriver  string
	ConfigDSN     string
	Retention     int
	SweepInterval time.Duration
	// SweepReprobe makes each sweep re-probe providers instead of only
	// marking stale entries.
	SweepReprobe  bool
	AdminToken    string
	ReadToken     string
	CORSOrigins   []string
	LogLevel      string
	LogFormat     string
}

// loadSettings reads .env (if present) and the environment.
func loadSettings() (settings, error) {
	_ = godotenv.Load()

	home, err := configstore.DefaultDir()
	if err != nil {
		return settings{}, err
	}

	s := settings{
		Port:         getEnv("PORT", "3000"),
		Home:         home,
		UsageDriver:  strings.ToLower(getEnv("USAGE_DB_DRIVER", driverSQLite)),
		UsageDSN:     os.Getenv("USAGE_DB_DSN"),
		ConfigDriver: strings.ToLower(getEnv("CONFIG_STORE", driverFile)),
		ConfigDSN:    os.Getenv("CONFIG_STORE_DSN"),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		ReadToken:    os.Getenv("ADMIN_READ_TOKEN"),
		CORSOrigins:  splitList(os.Getenv("CORS_ORIGINS")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
	}

	if s.Retention, err = getEnvInt("USAGE_RETENTION", usage.DefaultRetention); err != nil {
		return settings{}, err
	}
	if s.SweepInterval, err = getEnvDuration("HEALTH_SWEEP_INTERVAL", 0); err != nil {
		return settings{}, err
	}
	if s.SweepReprobe, err = getEnvBool("HEALTH_SWEEP_REPROBE", false); err != nil {
		return settings{}, err
	}
	return s, nil
}

func (s settings) configPath() string {
	return filepath.Join(s.Home, configstore.ConfigFileName)
}

func (s settings) usageDBPath() string {
	return filepath.Join(s.Home, "usage.db")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
