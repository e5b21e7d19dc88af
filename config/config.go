// Package config loads the harness configuration from a YAML file.
//
// Every field has a working default, so an empty file (or no file at all)
// yields a usable local configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the harness configuration.
type Config struct {
	// Env names the target environment and namespaces persisted state.
	Env string `yaml:"env"`
	// DataDir roots per-worker state directories and the key file.
	DataDir string `yaml:"dataDir"`
	// StreamTimeoutMS bounds each per-receiver collection, in milliseconds.
	StreamTimeoutMS int `yaml:"streamTimeoutMs"`
	// SendIntervalMS spaces sequential sends, in milliseconds.
	SendIntervalMS int `yaml:"sendIntervalMs"`
	// Thresholds are the pass bounds asserted by callers.
	Thresholds Thresholds `yaml:"thresholds"`
	// Workers configures default pool construction.
	Workers Workers `yaml:"workers"`
}

// Thresholds mirrors verify.Thresholds in file form.
type Thresholds struct {
	ReceptionPercent float64 `yaml:"receptionPercent"`
	OrderPercent     float64 `yaml:"orderPercent"`
}

// Workers configures default pool construction.
type Workers struct {
	// Count is how many workers a scenario spins up by default.
	Count int `yaml:"count"`
	// RandomNames draws names randomly from the pool instead of in fixed
	// order.
	RandomNames bool `yaml:"randomNames"`
}

// Default returns the local-run configuration.
func Default() Config {
	return Config{
		Env:             "local",
		DataDir:         ".data",
		StreamTimeoutMS: 3000,
		SendIntervalMS:  0,
		Thresholds: Thresholds{
			ReceptionPercent: 90,
			OrderPercent:     50,
		},
		Workers: Workers{
			Count:       4,
			RandomNames: true,
		},
	}
}

// Load reads a configuration file over the defaults. A missing path (empty
// string) returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the harness cannot run with.
func (c Config) Validate() error {
	if c.StreamTimeoutMS <= 0 {
		return fmt.Errorf("streamTimeoutMs must be positive, got %d", c.StreamTimeoutMS)
	}
	if c.SendIntervalMS < 0 {
		return fmt.Errorf("sendIntervalMs must not be negative, got %d", c.SendIntervalMS)
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Thresholds.ReceptionPercent < 0 || c.Thresholds.ReceptionPercent > 100 {
		return fmt.Errorf("thresholds.receptionPercent out of range: %v", c.Thresholds.ReceptionPercent)
	}
	if c.Thresholds.OrderPercent < 0 || c.Thresholds.OrderPercent > 100 {
		return fmt.Errorf("thresholds.orderPercent out of range: %v", c.Thresholds.OrderPercent)
	}
	return nil
}

// StreamTimeout returns the collection deadline as a duration.
func (c Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutMS) * time.Millisecond
}

// SendInterval returns the send spacing as a duration.
func (c Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}
