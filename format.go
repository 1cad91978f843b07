package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// errUnsuccessful marks a command whose Result was already printed; main
// exits non-zero without printing it again.
var errUnsuccessful = errors.New("operation did not fully succeed")

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf is the method form of statusf.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printResult renders a service Result and converts failure into
// errUnsuccessful.
func printResult(cc *CLIContext, res savesync.Result) error {
	if cc.Flags.JSON {
		if err := printJSON(cc.Out, res); err != nil {
			return err
		}
	} else {
		mark := color.GreenString("ok")
		if !res.Success {
			mark = color.RedString("failed")
		}

		fmt.Fprintf(cc.Out, "%s: %s\n", mark, res.Message)

		for _, e := range res.Errors {
			if e == res.Message {
				continue
			}

			fmt.Fprintf(cc.Out, "  %s %s\n", color.RedString("error:"), e)
		}

		if res.Conflicts > 0 {
			fmt.Fprintf(cc.Out, "  %s run 'romm-sync conflicts' to review\n", color.YellowString("note:"))
		}
	}

	if !res.Success {
		return errUnsuccessful
	}

	return nil
}

// colorStatus colors a SaveStatus file status label.
func colorStatus(s string) string {
	switch s {
	case savesync.StatusSynced:
		return color.GreenString(s)
	case savesync.StatusModified, savesync.StatusNeverSynced:
		return color.YellowString(s)
	case savesync.StatusConflict:
		return color.RedString(s)
	default:
		return color.CyanString(s)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact local timestamp, or "-" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatDuration renders whole seconds as "1h02m03s".
func formatDuration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

// printTable writes aligned columns to w. Widths are measured on the
// uncolored text so ANSI codes do not skew alignment.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if n := visibleLen(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		pad := widths[i] - visibleLen(cell)
		if pad < 0 {
			pad = 0
		}

		parts[i] = cell + strings.Repeat(" ", pad)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// visibleLen is len(s) without ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false

	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			n++
		}
	}

	return n
}
