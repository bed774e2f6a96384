package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	Host        string        `envconfig:"HOST" default:"127.0.0.1"`
	Ports       []int         `envconfig:"PORTS" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	WorkerPoolSize  int           `envconfig:"WORKER_POOL_SIZE" default:"5"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`
	ResolveTimeout  time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"30s"`
	ChunkSize       int           `envconfig:"CHUNK_SIZE" default:"131072"`

	ScriptPath string `envconfig:"SCRIPT_PATH"`
	TempDir    string `envconfig:"TEMP_DIR"`

	KillDelay       time.Duration `envconfig:"KILL_DELAY" default:"1s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid HTTP port: %d", p)
		}
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive: %d", c.WorkerPoolSize)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.ChunkSize)
	}

	if c.DownloadTimeout <= 0 || c.ResolveTimeout <= 0 {
		return fmt.Errorf("download and resolve timeouts must be positive")
	}

	if c.KillDelay < 0 {
		return fmt.Errorf("kill delay cannot be negative: %s", c.KillDelay)
	}

	if c.ScriptPath == "" {
		return fmt.Errorf("script path cannot be empty")
	}

	return nil
}
