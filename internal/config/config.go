// Package config holds the runtime configuration shared by the one-shot
// CLI modes and the daemon.
package config

import (
	"fmt"
	"net"
	"time"
)

// Config holds the configuration for a recovery run.
type Config struct {
	// RootDir is the directory holding one subdirectory per asset.
	RootDir string
	// Concurrency bounds the number of in-flight segment requests.
	Concurrency int
	// Delay is the minimum spacing between requests; zero disables it.
	Delay time.Duration
	// MaxRetryRounds bounds the retry rounds per recovery invocation.
	MaxRetryRounds int
	// DBPath is the SQLite task queue location (daemon and enqueue modes).
	DBPath string
	// CheckInterval is the daemon's idle poll interval.
	CheckInterval time.Duration
	// Cooldown is the pause between processed tasks.
	Cooldown time.Duration
	// BatchSize is how many pending tasks one poll pulls.
	BatchSize int
	// StatusAddr is the daemon status server bind address (host:port);
	// empty disables the server.
	StatusAddr string
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root directory is required")
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	if c.MaxRetryRounds < 0 {
		return fmt.Errorf("max retry rounds must not be negative")
	}

	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			return fmt.Errorf("invalid status address %q: %w", c.StatusAddr, err)
		}
	}

	// Set defaults
	if c.Concurrency == 0 {
		c.Concurrency = 32
	}
	if c.MaxRetryRounds == 0 {
		c.MaxRetryRounds = 3
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}

	return nil
}
