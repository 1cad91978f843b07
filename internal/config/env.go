package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig    = "ROMM_SYNC_CONFIG"
	EnvServer    = "ROMM_SYNC_SERVER"
	EnvSavesRoot = "ROMM_SYNC_SAVES_ROOT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ROMM_SYNC_CONFIG: config file path
	ServerURL  string // ROMM_SYNC_SERVER: server URL
	SavesRoot  string // ROMM_SYNC_SAVES_ROOT: emulator save tree
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServer),
		SavesRoot:  os.Getenv(EnvSavesRoot),
	}

	if logger != nil {
		logger.Debug("environment overrides read",
			slog.String("config", o.ConfigPath),
			slog.String("server", o.ServerURL),
			slog.String("saves_root", o.SavesRoot),
		)
	}

	return o
}
