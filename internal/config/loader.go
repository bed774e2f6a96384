package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ASSETD"

// DefaultScriptName is the processing script looked up next to the executable when
// no script path is configured.
const DefaultScriptName = "resolutions_bg.py"

// Load reads an optional .env file, loads configuration from environment variables,
// fills derived defaults and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if cfg.ScriptPath == "" {
		cfg.ScriptPath = defaultScriptPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", cfg.TempDir, err)
		}
		slog.Debug("directory created or verified", "path", cfg.TempDir)
	}

	return &cfg, nil
}

func defaultScriptPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultScriptName
	}
	return filepath.Join(filepath.Dir(exe), DefaultScriptName)
}

// SetupLogger configures the global slog logger based on configuration.
// Supports "json" or "text" formats and log levels: debug, info, warn, error.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
