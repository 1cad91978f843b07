package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidDefaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"server scheme", func(c *Config) { c.Server.URL = "romm.local" }, "server.url"},
		{"server host", func(c *Config) { c.Server.URL = "https://" }, "server.url"},
		{"empty saves root", func(c *Config) { c.Paths.SavesRoot = " " }, "paths.saves_root"},
		{"no extensions", func(c *Config) { c.Saves.Extensions = nil }, "saves.extensions"},
		{"bare extension", func(c *Config) { c.Saves.Extensions = []string{"srm"} }, "saves.extensions"},
		{"backup dir path", func(c *Config) { c.Saves.BackupDirName = "a/b" }, "saves.backup_dir_name"},
		{"backup dir dotdot", func(c *Config) { c.Saves.BackupDirName = ".." }, "saves.backup_dir_name"},
		{"conflict mode", func(c *Config) { c.Sync.ConflictMode = "random" }, "sync.conflict_mode"},
		{"negative tolerance", func(c *Config) { c.Sync.ClockSkewTolerance = -1 }, "sync.clock_skew_tolerance"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"timeout unparsable", func(c *Config) { c.Network.RequestTimeout = "fast" }, "network.request_timeout"},
		{"timeout too small", func(c *Config) { c.Network.RequestTimeout = "10ms" }, "network.request_timeout"},
		{"progress too large", func(c *Config) { c.Network.ProgressInterval = "2m" }, "network.progress_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AcceptsHTTPServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "http://192.168.1.10:8080"
	cfg.Network.ProgressInterval = "0s"

	assert.NoError(t, Validate(cfg))
}
