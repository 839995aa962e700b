package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds solver runtime settings. Values come from an optional YAML
// file (CONFIG_FILE) with environment variables taking precedence for the
// connection strings, matching how the rest of the service reads its env.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	Port        int    `yaml:"port"`

	Solve struct {
		Workers        int    `yaml:"workers"`
		QueueDepth     int    `yaml:"queue_depth"`
		LockLeaseSec   int    `yaml:"lock_lease_sec"`
		MatrixProvider string `yaml:"matrix_provider"` // linear or haversine
	} `yaml:"solve"`
}

// Defaults mirror the original deployment: 4 solve workers, queue depth
// 200, 60 second lock lease, linear stub matrix.
func defaults() Config {
	var c Config
	c.Port = 8080
	c.Solve.Workers = 4
	c.Solve.QueueDepth = 200
	c.Solve.LockLeaseSec = 60
	c.Solve.MatrixProvider = "linear"
	return c
}

// Load reads CONFIG_FILE if set, then applies env overrides.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SOLVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Solve.Workers = n
		}
	}
	if cfg.Solve.Workers <= 0 {
		cfg.Solve.Workers = 4
	}
	if cfg.Solve.QueueDepth <= 0 {
		cfg.Solve.QueueDepth = 200
	}
	if cfg.Solve.LockLeaseSec == 0 {
		cfg.Solve.LockLeaseSec = 60
	}
	return cfg, nil
}
