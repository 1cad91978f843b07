package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written on first login. Every option is
// present as a commented-out default. It is written once; later edits are
// line-based so user changes survive.
const configTemplate = `# romm-sync configuration

[server]
# RomM server base URL, set by 'romm-sync login'
# url = ""
# username = ""

[paths]
# Root of the emulator save tree; saves live in <saves_root>/<system>/
# saves_root = "~/.local/share/romm/saves"
# Ledger, journal and library state (default: platform data directory)
# state_dir = ""

[saves]
# extensions = [".srm", ".sav", ".rtc", ".eep", ".sra", ".fla", ".mcr", ".mcd", ".dsv", ".ps2"]
# backup_dir_name = ".romm-sync-backups"

[sync]
# Initial policy; after first run use 'romm-sync settings set'
# conflict_mode = "newest_wins"
# sync_before_launch = true
# sync_after_exit = true
# clock_skew_tolerance = 60

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# request_timeout = "30s"
# progress_interval = "500ms"
# user_agent = ""
`

// SetKey sets key = value inside [section] of the config file at path,
// creating the file from the template and the section as needed. An
// existing key line is replaced in place; comments and ordering elsewhere
// are preserved.
//
// Value formatting: booleans and integers are written bare; everything else
// is a quoted string.
func SetKey(path, section, key, value string) error {
	slog.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	content := configTemplate

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		content = string(data)
	case !os.IsNotExist(err):
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(content, "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, headerLine, key, newLine)
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of "[section]", or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. Blank lines and comments before the next header belong to
// the next section's preamble.
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			nextHeader = i

			break
		}
	}

	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection replaces an existing key line or inserts the key after
// the section's last setting (directly after the header when it has none).
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine+1)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	at := sectionEnd
	if at <= headerLine {
		at = headerLine + 1
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:at]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[at:]...)

	return inserted
}

// formatTOMLValue writes booleans and integers bare and quotes the rest.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if value != "" && strings.Trim(value, "0123456789") == "" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
