package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/romm-sync/internal/library"
	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// addZelda registers entity 42 and returns the save directory it maps to.
func addZelda(t *testing.T, cfgPath, savesRoot string) string {
	t.Helper()

	_, err := runCLI(t, cfgPath, "library", "add", "42", "--file", "Zelda (USA).sfc", "--system", "snes", "--emulator", "snes9x")
	require.NoError(t, err)

	return filepath.Join(savesRoot, "snes")
}

func TestLibrary_AddListRemove(t *testing.T) {
	cfgPath, savesRoot := writeCLIConfig(t)
	saveDir := addZelda(t, cfgPath, savesRoot)

	out, err := runCLI(t, cfgPath, "library", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Zelda (USA).sfc")
	assert.Contains(t, out, saveDir)

	out, err = runCLI(t, cfgPath, "--json", "library", "list")
	require.NoError(t, err)

	var list []library.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "snes9x", list[0].Emulator)

	_, err = runCLI(t, cfgPath, "library", "remove", "42")
	require.NoError(t, err)

	_, err = runCLI(t, cfgPath, "library", "remove", "42")
	require.ErrorIs(t, err, library.ErrUnknownEntity)
}

func TestLibrary_AddRequiresFile(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "library", "add", "42", "--system", "snes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestStatus_ReportsLocalSaves(t *testing.T) {
	cfgPath, savesRoot := writeCLIConfig(t)
	saveDir := addZelda(t, cfgPath, savesRoot)

	require.NoError(t, os.MkdirAll(saveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "Zelda (USA).srm"), []byte("sram"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "Metroid.srm"), []byte("other"), 0o600))

	out, err := runCLI(t, cfgPath, "--json", "status")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, tokenStateMissing, got.TokenState)
	assert.Empty(t, got.DeviceID)
	require.Len(t, got.Entities, 1)

	st := got.Entities[0]
	assert.Equal(t, "42", st.EntityID)
	require.Len(t, st.Files, 1)
	assert.Equal(t, "Zelda (USA).srm", st.Files[0].FileName)
	assert.Equal(t, savesync.StatusNeverSynced, st.Files[0].Status)

	out, err = runCLI(t, cfgPath, "status", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "(not registered)")
	assert.Contains(t, out, "never_synced")
}

func TestStatus_NoGames(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No games registered")
}

func TestSync_ArgumentValidation(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "sync")
	require.Error(t, err)

	_, err = runCLI(t, cfgPath, "sync", "42", "--all")
	require.Error(t, err)

	_, err = runCLI(t, cfgPath, "sync", "--all", "--upload-only")
	require.Error(t, err)

	_, err = runCLI(t, cfgPath, "sync", "42", "--upload-only", "--download-only")
	require.Error(t, err)
}

func TestSync_OfflineFailsWithResult(t *testing.T) {
	cfgPath, savesRoot := writeCLIConfig(t)
	addZelda(t, cfgPath, savesRoot)

	out, err := runCLI(t, cfgPath, "--json", "sync", "42")
	require.ErrorIs(t, err, errUnsuccessful)

	var res savesync.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "login")
}

func TestHooks_SessionSurvivesOfflineSync(t *testing.T) {
	cfgPath, savesRoot := writeCLIConfig(t)
	addZelda(t, cfgPath, savesRoot)

	_, err := runCLI(t, cfgPath, "pre-launch", "42")
	require.ErrorIs(t, err, errUnsuccessful)

	out, err := runCLI(t, cfgPath, "--json", "status", "42")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Entities, 1)
	require.NotNil(t, got.Entities[0].Playtime)
	assert.NotNil(t, got.Entities[0].Playtime.SessionStart)

	_, err = runCLI(t, cfgPath, "post-exit", "42")
	require.ErrorIs(t, err, errUnsuccessful)

	out, err = runCLI(t, cfgPath, "--json", "status", "42")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Entities[0].Playtime)
	assert.Nil(t, got.Entities[0].Playtime.SessionStart)
	assert.Equal(t, 1, got.Entities[0].Playtime.SessionCount)
}

func TestSession_StartEnd(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "session", "end", "7")
	require.ErrorIs(t, err, errUnsuccessful)

	_, err = runCLI(t, cfgPath, "session", "start", "7")
	require.NoError(t, err)

	out, err := runCLI(t, cfgPath, "--json", "session", "end", "7")
	require.NoError(t, err)

	var res savesync.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Seconds, int64(0))
}

func TestSettings_ShowAndSet(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "--json", "settings")
	require.NoError(t, err)

	var policy savesync.SyncPolicy
	require.NoError(t, json.Unmarshal([]byte(out), &policy))
	assert.Equal(t, savesync.ModeNewestWins, policy.ConflictMode)

	_, err = runCLI(t, cfgPath, "settings", "set", "conflict_mode=ask_me", "sync_after_exit=false", "clock_skew_tolerance=120")
	require.NoError(t, err)

	out, err = runCLI(t, cfgPath, "--json", "settings")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &policy))
	assert.Equal(t, savesync.ModeAskMe, policy.ConflictMode)
	assert.False(t, policy.SyncAfterExit)
	assert.True(t, policy.SyncBeforeLaunch)
	assert.Equal(t, 120, policy.ClockSkewTolerance)

	_, err = runCLI(t, cfgPath, "settings", "set", "clock_skew_tolerance=-5")
	require.Error(t, err)
}

func TestConflicts_Empty(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "conflicts")
	require.NoError(t, err)
	assert.Contains(t, out, "No unresolved conflicts")

	out, err = runCLI(t, cfgPath, "--json", "conflicts")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestResolve_Validation(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "resolve", "42/a.srm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution strategy")

	_, err = runCLI(t, cfgPath, "resolve", "--keep-local")
	require.Error(t, err)

	_, err = runCLI(t, cfgPath, "resolve", "--keep-local", "--all", "42/a.srm")
	require.Error(t, err)

	_, err = runCLI(t, cfgPath, "resolve", "--keep-local", "42/a.srm")
	require.ErrorIs(t, err, savesync.ErrConflictNotFound)

	_, err = runCLI(t, cfgPath, "resolve", "--keep-remote", "--all")
	require.NoError(t, err)
}

func TestHistory_RecordsOfflineFailure(t *testing.T) {
	cfgPath, savesRoot := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No sync history")

	_, err = runCLI(t, cfgPath, "history", "--limit", "0")
	require.Error(t, err)

	addZelda(t, cfgPath, savesRoot)
	_, _ = runCLI(t, cfgPath, "sync", "42")

	out, err = runCLI(t, cfgPath, "--json", "history", "42")
	require.NoError(t, err)

	var events []savesync.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))

	for _, ev := range events {
		assert.Equal(t, "42", ev.EntityID)
	}
}

func TestConfigSet_WritesAndValidates(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "config", "set", "sync", "conflict_mode", "always_upload")
	require.NoError(t, err)

	out, err := runCLI(t, cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `conflict_mode        = "always_upload"`)

	_, err = runCLI(t, cfgPath, "config", "set", "sync", "conflict_mode", "coin_flip")
	require.Error(t, err)
}

func TestLogin_RequiresServer(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfgPath, "login", "--username", "player")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server URL")
}
