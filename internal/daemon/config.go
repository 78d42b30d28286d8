// Package daemon manages the datalayerd lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/hse-digital/datalayer/internal/domain"
)

// Config holds all daemon configuration, including the region topology.
type Config struct {
	API       APIConfig       `toml:"api"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Health    HealthConfig    `toml:"health"`
	Failover  FailoverConfig  `toml:"failover"`
	Store     StoreConfig     `toml:"store"`
	Routing   RoutingConfig   `toml:"routing"`
	Regions   []domain.Region `toml:"regions"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// AdminToken guards the manual failover endpoints. Environment
	// references (${VAR}) are expanded, so the secret can live in .env.
	AdminToken string `toml:"admin_token"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// HealthConfig controls the probe loops.
type HealthConfig struct {
	Interval string `toml:"interval"`
	Timeout  string `toml:"timeout"`
}

// FailoverConfig controls the orchestrator's policy.
type FailoverConfig struct {
	Threshold       int    `toml:"threshold"`
	Interval        string `toml:"interval"`
	FailbackEnabled bool   `toml:"failback_enabled"`
	FailbackGrace   string `toml:"failback_grace"`
}

// StoreConfig controls per-endpoint connection pools.
type StoreConfig struct {
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	AcquireTimeout  string `toml:"acquire_timeout"`
}

// RoutingConfig controls the geo-routing layer.
type RoutingConfig struct {
	ProxyTimeout string `toml:"proxy_timeout"`
}

// DefaultConfig returns daemon defaults; the region topology has no
// default and must come from the config file.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7410,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{Prometheus: true},
		Health: HealthConfig{
			Interval: "30s",
			Timeout:  "5s",
		},
		Failover: FailoverConfig{
			Threshold:       3,
			Interval:        "15s",
			FailbackEnabled: true,
			FailbackGrace:   "5m",
		},
		Store: StoreConfig{
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxLifetime: "30m",
			AcquireTimeout:  "3s",
		},
		Routing: RoutingConfig{ProxyTimeout: "10s"},
	}
}

// LoadConfig reads the TOML config at path. A .env file next to the
// process, when present, is loaded first so ${VAR} references in the
// config (DSN credentials, admin token) resolve.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load() // optional; missing .env is fine

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.API.AdminToken = os.ExpandEnv(cfg.API.AdminToken)
	for i := range cfg.Regions {
		r := &cfg.Regions[i]
		r.DataStore.Primary = os.ExpandEnv(r.DataStore.Primary)
		for j := range r.DataStore.Replicas {
			r.DataStore.Replicas[j] = os.ExpandEnv(r.DataStore.Replicas[j])
		}
	}

	if len(cfg.Regions) == 0 {
		return cfg, fmt.Errorf("%w: no [[regions]] configured", domain.ErrConfiguration)
	}
	return cfg, nil
}

// parseDuration parses s, falling back to def on empty or bad input.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
