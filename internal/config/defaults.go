package config

import "time"

// Default values for configuration options. These represent "layer 0" of
// the four-layer override chain.
const (
	defaultSavesRoot          = "~/.local/share/romm/saves"
	defaultBackupDirName      = ".romm-sync-backups"
	defaultConflictMode       = "newest_wins"
	defaultClockSkewTolerance = 60
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultRequestTimeout     = "30s"
	defaultProgressInterval   = "500ms"

	defaultRequestTimeoutDur   = 30 * time.Second
	defaultProgressIntervalDur = 500 * time.Millisecond
)

// State file names inside the state directory.
const (
	ledgerFileName  = "ledger.json"
	lockFileName    = "ledger.lock"
	journalFileName = "history.db"
	libraryFileName = "library.db"
	tokenFileName   = "token.json"
)

// defaultExtensions mirrors library.DefaultExtensions; config stays free of
// a library import so the CLI can load config before opening the registry.
var defaultExtensions = []string{".srm", ".sav", ".rtc", ".eep", ".sra", ".fla", ".mcr", ".mcd", ".dsv", ".ps2"}

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding (unset fields keep defaults)
// and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			SavesRoot: defaultSavesRoot,
		},
		Saves: SavesConfig{
			Extensions:    append([]string(nil), defaultExtensions...),
			BackupDirName: defaultBackupDirName,
		},
		Sync: SyncConfig{
			ConflictMode:       defaultConflictMode,
			SyncBeforeLaunch:   true,
			SyncAfterExit:      true,
			ClockSkewTolerance: defaultClockSkewTolerance,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			RequestTimeout:   defaultRequestTimeout,
			ProgressInterval: defaultProgressInterval,
		},
	}
}
