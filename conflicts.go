package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// conflictIDPrefixLen is the number of characters to show for the conflict ID
// in table output. 8 chars is sufficient for uniqueness in typical use.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved save conflicts",
		Long: `Display the save conflicts queued by the ask_me policy or by a server
rejection.

Use 'romm-sync resolve' to settle them.`,
		Args: cobra.NoArgs,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ID              string `json:"id"`
	EntityID        string `json:"entity_id"`
	FileName        string `json:"filename"`
	LocalHash       string `json:"local_hash,omitempty"`
	LocalMtime      string `json:"local_mtime"`
	LocalSize       int64  `json:"local_size"`
	ServerHash      string `json:"server_hash,omitempty"`
	ServerUpdatedAt string `json:"server_updated_at"`
	ServerSize      int64  `json:"server_size"`
	CreatedAt       string `json:"created_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withAgent(ctx, cc, func(a *agent) error {
		conflicts := a.Service.PendingConflicts()

		if cc.Flags.JSON {
			return printConflictsJSON(cc, conflicts)
		}

		if len(conflicts) == 0 {
			fmt.Fprintln(cc.Out, "No unresolved conflicts.")
			return nil
		}

		printConflictsTable(cc, conflicts)

		return nil
	})
}

func printConflictsJSON(cc *CLIContext, conflicts []savesync.ConflictRecord) error {
	items := make([]conflictJSON, 0, len(conflicts))

	for i := range conflicts {
		c := &conflicts[i]
		items = append(items, conflictJSON{
			ID:              c.ID,
			EntityID:        c.EntityID,
			FileName:        c.FileName,
			LocalHash:       c.LocalHash,
			LocalMtime:      c.LocalMtime.UTC().Format(time.RFC3339),
			LocalSize:       c.LocalSize,
			ServerHash:      c.ServerHash,
			ServerUpdatedAt: c.ServerUpdatedAt.UTC().Format(time.RFC3339),
			ServerSize:      c.ServerSize,
			CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return printJSON(cc.Out, items)
}

func printConflictsTable(cc *CLIContext, conflicts []savesync.ConflictRecord) {
	headers := []string{"ID", "GAME", "FILE", "LOCAL", "SERVER", "DETECTED"}
	rows := make([][]string, 0, len(conflicts))

	for i := range conflicts {
		c := &conflicts[i]
		rows = append(rows, []string{
			truncateID(c.ID),
			c.EntityID,
			c.FileName,
			formatTime(c.LocalMtime) + " " + formatSize(c.LocalSize),
			formatTime(c.ServerUpdatedAt) + " " + formatSize(c.ServerSize),
			formatTime(c.CreatedAt),
		})
	}

	printTable(cc.Out, headers, rows)
}

// truncateID returns the first conflictIDPrefixLen characters of an ID.
func truncateID(id string) string {
	if len(id) <= conflictIDPrefixLen {
		return id
	}

	return id[:conflictIDPrefixLen]
}
