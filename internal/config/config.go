// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for romm-sync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import (
	"path/filepath"
	"time"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Paths   PathsConfig   `toml:"paths"`
	Saves   SavesConfig   `toml:"saves"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// ServerConfig identifies the RomM server and the account used with it.
type ServerConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
}

// PathsConfig locates the emulator save tree and this agent's own state.
// An empty state_dir means the platform data directory.
type PathsConfig struct {
	SavesRoot string `toml:"saves_root"`
	StateDir  string `toml:"state_dir"`
}

// SavesConfig controls which files count as saves and where overwritten
// saves are backed up (relative to the save directory).
type SavesConfig struct {
	Extensions    []string `toml:"extensions"`
	BackupDirName string   `toml:"backup_dir_name"`
}

// SyncConfig is the initial sync policy. It seeds the ledger on first run;
// afterwards the ledger's settings are authoritative.
type SyncConfig struct {
	ConflictMode       string `toml:"conflict_mode"`
	SyncBeforeLaunch   bool   `toml:"sync_before_launch"`
	SyncAfterExit      bool   `toml:"sync_after_exit"`
	ClockSkewTolerance int    `toml:"clock_skew_tolerance"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	RequestTimeout   string `toml:"request_timeout"`
	UserAgent        string `toml:"user_agent"`
	ProgressInterval string `toml:"progress_interval"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ServerURL  *string // --server flag
	SavesRoot  *string // --saves-root flag
}

// SyncPolicy converts the [sync] section into the ledger policy. Call after
// Validate; an unparseable mode falls back to newest_wins.
func (c *Config) SyncPolicy() savesync.SyncPolicy {
	mode, err := savesync.ParseConflictMode(c.Sync.ConflictMode)
	if err != nil {
		mode = savesync.ModeNewestWins
	}

	return savesync.SyncPolicy{
		ConflictMode:       mode,
		SyncBeforeLaunch:   c.Sync.SyncBeforeLaunch,
		SyncAfterExit:      c.Sync.SyncAfterExit,
		ClockSkewTolerance: c.Sync.ClockSkewTolerance,
	}
}

// RequestTimeout returns the parsed per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Network.RequestTimeout, defaultRequestTimeoutDur)
}

// ProgressInterval returns the parsed progress callback interval.
func (c *Config) ProgressInterval() time.Duration {
	return durationOr(c.Network.ProgressInterval, defaultProgressIntervalDur)
}

// StateDir returns the effective state directory.
func (c *Config) StateDir() string {
	if c.Paths.StateDir != "" {
		return ExpandTilde(c.Paths.StateDir)
	}

	return DefaultDataDir()
}

// LedgerPath is the sync ledger JSON file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.StateDir(), ledgerFileName)
}

// LockPath is the cross-process ledger lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir(), lockFileName)
}

// JournalPath is the SQLite sync history database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir(), journalFileName)
}

// LibraryPath is the installed-entity registry database.
func (c *Config) LibraryPath() string {
	return filepath.Join(c.StateDir(), libraryFileName)
}

// TokenPath is the saved server credential file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.StateDir(), tokenFileName)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
