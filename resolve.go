package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [id-or-game/file]",
		Short: "Resolve save conflicts",
		Long: `Resolve queued save conflicts with a chosen side.

Strategies:
  --keep-local   Upload the local save over the server copy
  --keep-remote  Download the server save over the local copy (a backup is kept)

A conflict is named by its ID, a unique ID prefix, or "<game-id>/<file>".
Use --all to resolve every queued conflict with the chosen strategy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "upload the local save to overwrite the server")
	cmd.Flags().Bool("keep-remote", false, "download the server save to overwrite local")
	cmd.Flags().Bool("all", false, "resolve all unresolved conflicts")
	cmd.Flags().Bool("dry-run", false, "preview resolution without executing")

	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	resolution, err := resolveStrategy(cmd)
	if err != nil {
		return err
	}

	resolveAll := cmd.Flags().Changed("all")

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	if !resolveAll && len(args) == 0 {
		return errors.New("specify a conflict ID or game/file, or use --all to resolve all conflicts")
	}

	if resolveAll && len(args) > 0 {
		return errors.New("--all and a specific conflict argument are mutually exclusive")
	}

	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withAgent(ctx, cc, func(a *agent) error {
		var targets []savesync.ConflictRecord

		if resolveAll {
			targets = a.Service.PendingConflicts()
		} else {
			c, err := a.Service.FindConflict(args[0])
			if err != nil {
				return err
			}

			targets = []savesync.ConflictRecord{c}
		}

		return resolveEach(ctx, cc, a.Service, targets, resolution, dryRun)
	})
}

// resolveStrategy returns the chosen resolution from flags.
func resolveStrategy(cmd *cobra.Command) (savesync.Resolution, error) {
	switch {
	case cmd.Flags().Changed("keep-local"):
		return savesync.ResolveUpload, nil
	case cmd.Flags().Changed("keep-remote"):
		return savesync.ResolveDownload, nil
	default:
		return savesync.ResolveAsk, errors.New("specify a resolution strategy: --keep-local or --keep-remote")
	}
}

// resolveEach settles conflicts in queue order. A failed resolution leaves
// its conflict queued; the remaining ones are still attempted.
func resolveEach(
	ctx context.Context, cc *CLIContext, svc *savesync.Service,
	conflicts []savesync.ConflictRecord, resolution savesync.Resolution, dryRun bool,
) error {
	if len(conflicts) == 0 {
		cc.Statusf("No unresolved conflicts.\n")
		return nil
	}

	var errs []error

	for i := range conflicts {
		c := &conflicts[i]
		label := c.EntityID + "/" + c.FileName

		if dryRun {
			cc.Statusf("Would resolve %s (%s) by %s\n", label, truncateID(c.ID), resolution)
			continue
		}

		res := svc.ResolveConflict(ctx, c.EntityID, c.FileName, resolution)
		logResult(cc.Logger, "resolve", res)

		if !res.Success {
			errs = append(errs, fmt.Errorf("resolving %s: %s", label, res.Message))
			continue
		}

		cc.Statusf("Resolved %s by %s\n", label, resolution)
	}

	return errors.Join(errs...)
}
