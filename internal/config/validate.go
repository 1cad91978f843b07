package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// Validation range constants.
const (
	minRequestTimeout    = 1 * time.Second
	maxRequestTimeout    = 30 * time.Minute
	maxProgressInterval  = time.Minute
	maxClockSkewTolerant = 24 * 60 * 60
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns all errors found, so
// users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePaths(&cfg.Paths)...)
	errs = append(errs, validateSaves(&cfg.Saves)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	if s.URL == "" {
		return nil
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return []error{fmt.Errorf("server.url: %w", err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("server.url: must be an http(s) URL with a host, got %q", s.URL)}
	}

	return nil
}

func validatePaths(p *PathsConfig) []error {
	if strings.TrimSpace(p.SavesRoot) == "" {
		return []error{errors.New("paths.saves_root: must not be empty")}
	}

	return nil
}

func validateSaves(s *SavesConfig) []error {
	var errs []error

	if len(s.Extensions) == 0 {
		errs = append(errs, errors.New("saves.extensions: must list at least one extension"))
	}

	for _, ext := range s.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\ `) {
			errs = append(errs, fmt.Errorf("saves.extensions: %q must look like \".srm\"", ext))
		}
	}

	name := s.BackupDirName
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		errs = append(errs, fmt.Errorf("saves.backup_dir_name: must be a plain directory name, got %q", name))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if _, err := savesync.ParseConflictMode(s.ConflictMode); err != nil {
		errs = append(errs, fmt.Errorf("sync.conflict_mode: %w", err))
	}

	if s.ClockSkewTolerance < 0 || s.ClockSkewTolerance > maxClockSkewTolerant {
		errs = append(errs, fmt.Errorf("sync.clock_skew_tolerance: must be between 0 and %d seconds, got %d",
			maxClockSkewTolerant, s.ClockSkewTolerance))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !oneOf(l.LogLevel, validLogLevels) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !oneOf(l.LogFormat, validLogFormats) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("network.request_timeout", n.RequestTimeout, minRequestTimeout, maxRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("network.progress_interval", n.ProgressInterval, 0, maxProgressInterval); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateDuration(field, value string, lo, hi time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < lo || d > hi {
		return fmt.Errorf("%s: must be between %s and %s, got %s", field, lo, hi, d)
	}

	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}

	return false
}
