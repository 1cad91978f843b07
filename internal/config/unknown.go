package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to its valid keys.
var knownKeys = map[string]map[string]bool{
	"server":  {"url": true, "username": true},
	"paths":   {"saves_root": true, "state_dir": true},
	"saves":   {"extensions": true, "backup_dir_name": true},
	"sync":    {"conflict_mode": true, "sync_before_launch": true, "sync_after_exit": true, "clock_skew_tolerance": true},
	"logging": {"log_level": true, "log_format": true},
	"network": {"request_timeout": true, "user_agent": true, "progress_interval": true},
}

// knownSectionsList is sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownSectionsList = sortedKeys(knownKeys)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seenSections := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) == 0 {
			continue
		}

		// An unknown section is reported once, not once per key inside it.
		if _, known := knownKeys[key[0]]; !known {
			if seenSections[key[0]] {
				continue
			}

			seenSections[key[0]] = true
		}

		if err := buildKeyError(md, key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key, suggesting the closest known
// section or key.
func buildKeyError(md *toml.MetaData, key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if len(key) == 1 && md.Type(section) != "Hash" {
			return unknownError("unknown config key %q", section, knownSectionsList)
		}

		return unknownError("unknown config section [%s]", section, knownSectionsList)
	}

	if len(key) < 2 {
		return fmt.Errorf("config key %q must be a section", section)
	}

	field := key[1]
	if keys[field] {
		return nil
	}

	return unknownError("unknown config key %q in ["+section+"]", field, sortedKeys(keys))
}

func unknownError(format, name string, known []string) error {
	msg := fmt.Sprintf(format, name)

	if suggestion := closestMatch(name, known); suggestion != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, suggestion)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
