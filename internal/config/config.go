// Package config loads the sync core configuration from a YAML file with
// sensible defaults for every knob.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillforge/inkwell/internal/queue"
)

// Config is the top-level configuration for the sync core.
type Config struct {
	// DataDir holds the local SQLite queue database.
	DataDir string `yaml:"data_dir"`

	Log          LogConfig          `yaml:"log"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// QueueConfig tunes the sync queue; durations are in milliseconds.
type QueueConfig struct {
	BackoffBaseMS     int `yaml:"backoff_base_ms"`
	BackoffMaxMS      int `yaml:"backoff_max_ms"`
	MaxAttempts       int `yaml:"max_attempts"` // 0 = unlimited
	ShutdownPollMS    int `yaml:"shutdown_poll_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// ConnectivityConfig tunes the websocket heartbeat monitor.
type ConnectivityConfig struct {
	// URL is the heartbeat endpoint; empty disables the monitor and
	// leaves the online state host-driven.
	URL         string `yaml:"url"`
	HeartbeatMS int    `yaml:"heartbeat_ms"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Log:     LogConfig{Level: "info"},
		Queue: QueueConfig{
			BackoffBaseMS:     2000,
			BackoffMaxMS:      300000,
			MaxAttempts:       0,
			ShutdownPollMS:    15,
			ShutdownTimeoutMS: 5000,
		},
		Connectivity: ConnectivityConfig{
			HeartbeatMS: 15000,
		},
		Sync: SyncConfig{
			IntervalMS: 900000,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the queue cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.Queue.BackoffBaseMS < 0 || c.Queue.BackoffMaxMS < 0 {
		return fmt.Errorf("config: negative backoff")
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("config: negative max_attempts")
	}
	return nil
}

// QueueConfig converts the file representation into queue tuning values.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		BackoffBase:     time.Duration(c.Queue.BackoffBaseMS) * time.Millisecond,
		BackoffMax:      time.Duration(c.Queue.BackoffMaxMS) * time.Millisecond,
		MaxAttempts:     c.Queue.MaxAttempts,
		ShutdownPoll:    time.Duration(c.Queue.ShutdownPollMS) * time.Millisecond,
		ShutdownTimeout: time.Duration(c.Queue.ShutdownTimeoutMS) * time.Millisecond,
	}
}
