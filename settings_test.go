package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

func TestParseSettings_AllKeys(t *testing.T) {
	patch, err := parseSettings([]string{
		"conflict_mode=always_download",
		"sync_before_launch=false",
		" sync_after_exit = true ",
		"clock_skew_tolerance=30",
	})
	require.NoError(t, err)

	require.NotNil(t, patch.ConflictMode)
	assert.Equal(t, savesync.ModeAlwaysDownload, *patch.ConflictMode)
	require.NotNil(t, patch.SyncBeforeLaunch)
	assert.False(t, *patch.SyncBeforeLaunch)
	require.NotNil(t, patch.SyncAfterExit)
	assert.True(t, *patch.SyncAfterExit)
	require.NotNil(t, patch.ClockSkewTolerance)
	assert.Equal(t, 30, *patch.ClockSkewTolerance)
}

func TestParseSettings_OnlyNamedKeysSet(t *testing.T) {
	patch, err := parseSettings([]string{"sync_after_exit=0"})
	require.NoError(t, err)

	assert.Nil(t, patch.ConflictMode)
	assert.Nil(t, patch.SyncBeforeLaunch)
	assert.Nil(t, patch.ClockSkewTolerance)
	require.NotNil(t, patch.SyncAfterExit)
	assert.False(t, *patch.SyncAfterExit)
}

func TestParseSettings_ReportsEveryError(t *testing.T) {
	_, err := parseSettings([]string{
		"conflict_mode",
		"conflict_mode=coin_flip",
		"sync_before_launch=maybe",
		"clock_skew_tolerance=soon",
		"volume=11",
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `"conflict_mode": expected key=value`)
	assert.Contains(t, msg, "conflict_mode: ")
	assert.Contains(t, msg, `sync_before_launch: invalid boolean "maybe"`)
	assert.Contains(t, msg, `clock_skew_tolerance: invalid number of seconds "soon"`)
	assert.Contains(t, msg, "volume: unknown setting")
}
