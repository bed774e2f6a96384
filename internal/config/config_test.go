package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Ports:           []int{62485, 65425},
		WorkerPoolSize:  5,
		DownloadTimeout: time.Minute,
		ResolveTimeout:  time.Second,
		ChunkSize:       131072,
		KillDelay:       time.Second,
		ScriptPath:      "/opt/resolutions_bg.py",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no ports", mutate: func(c *Config) { c.Ports = nil }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Ports = []int{8080, 70000} }, wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "zero pool", mutate: func(c *Config) { c.WorkerPoolSize = 0 }, wantErr: true},
		{name: "zero chunk", mutate: func(c *Config) { c.ChunkSize = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.ResolveTimeout = 0 }, wantErr: true},
		{name: "negative kill delay", mutate: func(c *Config) { c.KillDelay = -time.Second }, wantErr: true},
		{name: "no script", mutate: func(c *Config) { c.ScriptPath = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	tempDir := t.TempDir() + "/side-channel"

	t.Setenv("ASSETD_PORTS", "62485,65425,55428")
	t.Setenv("ASSETD_WORKER_POOL_SIZE", "2")
	t.Setenv("ASSETD_KILL_DELAY", "250ms")
	t.Setenv("ASSETD_TEMP_DIR", tempDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, []int{62485, 65425, 55428}, cfg.Ports)
	assert.Equal(t, 2, cfg.WorkerPoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.KillDelay)
	assert.Equal(t, 131072, cfg.ChunkSize)
	assert.Contains(t, cfg.ScriptPath, DefaultScriptName)
	assert.DirExists(t, tempDir)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ASSETD_WORKER_POOL_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}
