package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvServer, "https://romm.local")
	t.Setenv(EnvSavesRoot, "/saves")

	o := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, "/custom/config.toml", o.ConfigPath)
	assert.Equal(t, "https://romm.local", o.ServerURL)
	assert.Equal(t, "/saves", o.SavesRoot)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvServer, "")
	t.Setenv(EnvSavesRoot, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(nil))
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "ROMM_SYNC_CONFIG", EnvConfig)
	assert.Equal(t, "ROMM_SYNC_SERVER", EnvServer)
	assert.Equal(t, "ROMM_SYNC_SAVES_ROOT", EnvSavesRoot)
}
