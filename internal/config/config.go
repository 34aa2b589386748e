// Package config loads SAFEGUARD's settings the way the teacher repo loads
// mcplexer's: environment variables with sane defaults (cmd/mcplexer/config.go's
// envOr/parseLogLevel pattern), plus an optional YAML override file for the
// handful of settings spec.md §6 calls out as configuration (default_ttl_minutes,
// default_delay_hours).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/revittco/safeguard/internal/safeguard"
)

// Config holds every setting spec.md §6 recognises, plus the ambient
// settings (DB driver selection, log level, sweeper cadence) a deployed
// service needs that the spec leaves to the implementation.
type Config struct {
	// DBDriver selects the E2 backend: "sqlite" (default/dev) or "postgres".
	DBDriver string
	// DBDSN is a file path (sqlite) or connection string (postgres),
	// spec.md §6's "postgres_dsn" setting generalised across both backends.
	DBDSN string

	// RedisAddr is the E1 keystore's connection address.
	RedisAddr string

	// AgeKeyPath is the path to the age identity file used to encrypt
	// secret envelopes at rest. If empty, a key is auto-generated
	// alongside DBDSN on first run (see cmd/safeguardd).
	AgeKeyPath string

	// DefaultTTLMinutes is the ttl_minutes default (spec.md §4.1), seeded
	// from safeguard.DefaultTTLMinutes and overridable via the YAML config
	// file. Nothing outside this package reads it: approval.Manager.Create
	// falls back to the safeguard.DefaultTTLMinutes constant.
	DefaultTTLMinutes int

	// DefaultDelayHours maps a security level to its default deferred
	// execution delay (spec.md §4.2). Seeded from safeguard.DefaultDelayHours
	// and overridable via the YAML config file. Nothing outside this package
	// reads it: deferred.Manager.Create uses safeguard.DelayHoursFor, which
	// reads the safeguard.DefaultDelayHours table.
	DefaultDelayHours map[safeguard.Level]int

	// SweeperInterval is how often the C3 sweeper runs expire_old() and
	// polls get_due() (spec.md §4.3: "cadence ... typically 30-60s").
	SweeperInterval int // seconds

	// HealthAddr is the liveness/readiness/metrics HTTP listen address.
	// cmd/safeguardd exposes only this surface; the approve/reject API is
	// a transport-layer collaborator per spec.md's Non-goals.
	HealthAddr string

	LogLevel slog.Level
}

// fileOverrides is the optional YAML document layered on top of env-derived
// defaults, parsed with gopkg.in/yaml.v3 the same way the teacher's
// internal/config/loader.go parses mcplexer.yaml.
type fileOverrides struct {
	DefaultTTLMinutes *int           `yaml:"default_ttl_minutes"`
	DefaultDelayHours map[string]int `yaml:"default_delay_hours"`
}

// Load builds a Config from environment variables, then applies an optional
// YAML override file if SAFEGUARD_CONFIG (default ~/.safeguard/safeguard.yaml)
// points at an existing file.
func Load() (*Config, error) {
	cfg := &Config{
		DBDriver:          envOr("SAFEGUARD_DB_DRIVER", "sqlite"),
		DBDSN:             envOr("SAFEGUARD_POSTGRES_DSN", defaultDataPath("safeguard.db")),
		RedisAddr:         envOr("SAFEGUARD_REDIS_ADDR", "127.0.0.1:6379"),
		AgeKeyPath:        envOr("SAFEGUARD_AGE_KEY", ""),
		DefaultTTLMinutes: safeguard.DefaultTTLMinutes,
		DefaultDelayHours: cloneDelayTable(safeguard.DefaultDelayHours),
		SweeperInterval:   envOrInt("SAFEGUARD_SWEEPER_INTERVAL_SECONDS", 30),
		HealthAddr:        envOr("SAFEGUARD_HEALTH_ADDR", "127.0.0.1:9090"),
		LogLevel:          parseLogLevel(envOr("SAFEGUARD_LOG_LEVEL", "info")),
	}

	configFile := envOr("SAFEGUARD_CONFIG", defaultDataPath("safeguard.yaml"))
	if _, err := os.Stat(configFile); err == nil {
		if err := applyFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("apply config file %s: %w", configFile, err)
		}
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if overrides.DefaultTTLMinutes != nil {
		cfg.DefaultTTLMinutes = *overrides.DefaultTTLMinutes
	}
	for level, hours := range overrides.DefaultDelayHours {
		cfg.DefaultDelayHours[safeguard.Level(level)] = hours
	}
	return nil
}

func cloneDelayTable(src map[safeguard.Level]int) map[safeguard.Level]int {
	out := make(map[safeguard.Level]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// defaultDataPath returns ~/.safeguard/<filename>, falling back to a
// CWD-relative path if the home directory can't be resolved — same
// fallback the teacher's defaultDataPath uses.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".safeguard", filename)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch s {
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
