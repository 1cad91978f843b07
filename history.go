package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [entity-id]",
		Short: "Show recent transfers, conflicts and failures",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", 20, "maximum number of events to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	if limit < 1 {
		return errors.New("--limit must be at least 1")
	}

	var entityID string
	if len(args) == 1 {
		entityID = args[0]
	}

	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	// The journal is append-only SQLite; reading it needs no ledger lock.
	journal, err := savesync.OpenJournal(ctx, cc.Cfg.JournalPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer journal.Close()

	events, err := journal.Recent(ctx, entityID, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if events == nil {
			events = []savesync.Event{}
		}

		return printJSON(cc.Out, events)
	}

	if len(events) == 0 {
		fmt.Fprintln(cc.Out, "No sync history.")
		return nil
	}

	rows := make([][]string, 0, len(events))
	for i := range events {
		ev := &events[i]

		size := ""
		if ev.Bytes > 0 {
			size = formatSize(ev.Bytes)
		}

		rows = append(rows, []string{formatTime(ev.RecordedAt), ev.EntityID, ev.Kind, ev.FileName, size, ev.Detail})
	}

	printTable(cc.Out, []string{"WHEN", "GAME", "EVENT", "FILE", "SIZE", "DETAIL"}, rows)

	return nil
}
