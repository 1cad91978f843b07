package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. This powers "config show", giving visibility into the
// effective values after all four override layers have been applied.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n", path)
	ew.printf("# State directory: %s\n\n", cfg.StateDir())

	ew.printf("[server]\n")
	ew.printf("  url      = %q\n", cfg.Server.URL)

	if cfg.Server.Username != "" {
		ew.printf("  username = %q\n", cfg.Server.Username)
	}

	ew.printf("\n[paths]\n")
	ew.printf("  saves_root = %q\n", cfg.Paths.SavesRoot)

	if cfg.Paths.StateDir != "" {
		ew.printf("  state_dir  = %q\n", cfg.Paths.StateDir)
	}

	ew.printf("\n[saves]\n")
	ew.printf("  extensions      = [%s]\n", joinQuoted(cfg.Saves.Extensions))
	ew.printf("  backup_dir_name = %q\n", cfg.Saves.BackupDirName)

	ew.printf("\n[sync]\n")
	ew.printf("  conflict_mode        = %q\n", cfg.Sync.ConflictMode)
	ew.printf("  sync_before_launch   = %t\n", cfg.Sync.SyncBeforeLaunch)
	ew.printf("  sync_after_exit      = %t\n", cfg.Sync.SyncAfterExit)
	ew.printf("  clock_skew_tolerance = %d\n", cfg.Sync.ClockSkewTolerance)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n", cfg.Logging.LogFormat)

	ew.printf("\n[network]\n")
	ew.printf("  request_timeout   = %q\n", cfg.Network.RequestTimeout)
	ew.printf("  progress_interval = %q\n", cfg.Network.ProgressInterval)

	if cfg.Network.UserAgent != "" {
		ew.printf("  user_agent        = %q\n", cfg.Network.UserAgent)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
