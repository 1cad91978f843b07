package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/romm-sync/internal/savesync"
	"github.com/tonimelisma/romm-sync/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

// statusHashWorkers bounds how many entities are hashed at once.
const statusHashWorkers = 4

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [entity-id]",
		Short: "Show save sync status without contacting the server",
		Long: `Display the local view of save sync: login state, device id, and for each
game (or the one given) every save file with its status against the ledger.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for 'status --json'.
type statusOutput struct {
	Server     string                 `json:"server"`
	TokenState string                 `json:"token_state"`
	DeviceID   string                 `json:"device_id"`
	Pending    int                    `json:"pending_conflicts"`
	Entities   []*savesync.SaveStatus `json:"entities"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withAgent(ctx, cc, func(a *agent) error {
		ids := args
		if len(ids) == 0 {
			installed, err := a.Locator.InstalledEntities()
			if err != nil {
				return err
			}

			ids = installed
		}

		entities, err := collectStatuses(a.Service, ids)
		if err != nil {
			return err
		}

		out := statusOutput{
			Server:     cc.Cfg.Server.URL,
			TokenState: tokenState(cc.Cfg.TokenPath()),
			DeviceID:   a.Service.Engine().Snapshot().DeviceID,
			Pending:    len(a.Service.PendingConflicts()),
			Entities:   entities,
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, out)
		}

		printStatus(cc, &out)

		return nil
	})
}

// collectStatuses hashes each entity's saves in parallel and returns the
// statuses in ids order.
func collectStatuses(svc *savesync.Service, ids []string) ([]*savesync.SaveStatus, error) {
	out := make([]*savesync.SaveStatus, len(ids))

	var g errgroup.Group
	g.SetLimit(statusHashWorkers)

	for i, id := range ids {
		g.Go(func() error {
			st, err := svc.SaveStatus(id)
			if err != nil {
				return fmt.Errorf("status of %s: %w", id, err)
			}

			out[i] = st

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func tokenState(path string) string {
	tf, err := tokenfile.Load(path)
	if err != nil || tf == nil || tf.Token == nil {
		return tokenStateMissing
	}

	// A refresh token renews an expired access token on the next call.
	if !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now()) && tf.Token.RefreshToken == "" {
		return tokenStateExpired
	}

	return tokenStateValid
}

func printStatus(cc *CLIContext, out *statusOutput) {
	server := out.Server
	if server == "" {
		server = "(not set)"
	}

	device := out.DeviceID
	if device == "" {
		device = "(not registered)"
	}

	fmt.Fprintf(cc.Out, "Server:  %s (token %s)\n", server, out.TokenState)
	fmt.Fprintf(cc.Out, "Device:  %s\n", device)

	if out.Pending > 0 {
		fmt.Fprintf(cc.Out, "Pending conflicts: %d\n", out.Pending)
	}

	if len(out.Entities) == 0 {
		fmt.Fprintln(cc.Out, "\nNo games registered. Add one with 'romm-sync library add'.")
		return
	}

	for _, st := range out.Entities {
		fmt.Fprintf(cc.Out, "\n%s", st.EntityID)

		if st.System != "" {
			fmt.Fprintf(cc.Out, "  [%s/%s]", st.System, st.Emulator)
		}

		if st.Playtime != nil {
			fmt.Fprintf(cc.Out, "  played %s over %d session(s)",
				formatDuration(st.Playtime.TotalSeconds), st.Playtime.SessionCount)

			if st.Playtime.SessionStart != nil {
				fmt.Fprint(cc.Out, ", in session")
			}
		}

		fmt.Fprintln(cc.Out)

		if len(st.Files) == 0 {
			fmt.Fprintln(cc.Out, "  no save files")
			continue
		}

		rows := make([][]string, 0, len(st.Files))
		for i := range st.Files {
			f := &st.Files[i]
			rows = append(rows, []string{"  " + f.FileName, colorStatus(f.Status), formatTime(f.LocalMtime), formatTime(f.LastSyncAt)})
		}

		printTable(cc.Out, []string{"  FILE", "STATUS", "MODIFIED", "LAST SYNC"}, rows)
	}
}
