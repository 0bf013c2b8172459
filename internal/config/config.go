package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full service configuration, loaded from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Tracker TrackerConfig `toml:"tracker"`
}

type ServerConfig struct {
	Port      string `toml:"port"`
	JWTSecret string `toml:"jwt_secret"`
}

type StoreConfig struct {
	// DatabasePath is the sqlite file backing the order store. An empty
	// path selects an in-memory database, so nothing survives a restart.
	DatabasePath           string `toml:"database_path"`
	MaxHeldOrders          int    `toml:"max_held_orders"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
}

type TrackerConfig struct {
	CompetitionWindowSeconds int  `toml:"competition_window_seconds"`
	MonitorFailures          bool `toml:"monitor_failures"`
}

func (c StoreConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func (c TrackerConfig) CompetitionWindow() time.Duration {
	return time.Duration(c.CompetitionWindowSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			JWTSecret: "intent-settlement-secret",
		},
		Store: StoreConfig{
			DatabasePath:           "orders.db",
			MaxHeldOrders:          10000,
			CleanupIntervalSeconds: 60,
		},
		Tracker: TrackerConfig{
			CompetitionWindowSeconds: 300,
			MonitorFailures:          true,
		},
	}
}

// Load reads the TOML file at path, filling unset fields with defaults.
// A missing file is not an error and yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
