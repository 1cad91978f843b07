package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [entity-id]",
		Short: "Synchronize save files with the server",
		Long: `Synchronize the save files of one game, or of every registered game with --all.

Both directions are synced by default. Conflicts that the policy cannot
settle are queued; review them with 'romm-sync conflicts'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}

	cmd.Flags().Bool("all", false, "sync every registered game")
	cmd.Flags().Bool("download-only", false, "only pull server changes")
	cmd.Flags().Bool("upload-only", false, "only push local changes")
	cmd.MarkFlagsMutuallyExclusive("download-only", "upload-only")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}

	if all == (len(args) == 1) {
		return errors.New("specify exactly one of an entity id or --all")
	}

	dir, err := directionFlags(cmd)
	if err != nil {
		return err
	}

	if all && dir != savesync.DirectionBoth {
		return errors.New("--all always syncs both directions")
	}

	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withAgent(ctx, cc, func(a *agent) error {
		var res savesync.Result
		if all {
			res = a.Service.SyncAll(ctx)
		} else {
			res = a.Service.SyncEntity(ctx, args[0], dir)
		}

		logResult(cc.Logger, "sync", res)

		return printResult(cc, res)
	})
}

func directionFlags(cmd *cobra.Command) (savesync.Direction, error) {
	down, err := cmd.Flags().GetBool("download-only")
	if err != nil {
		return savesync.DirectionBoth, err
	}

	up, err := cmd.Flags().GetBool("upload-only")
	if err != nil {
		return savesync.DirectionBoth, err
	}

	switch {
	case down:
		return savesync.DirectionDownload, nil
	case up:
		return savesync.DirectionUpload, nil
	default:
		return savesync.DirectionBoth, nil
	}
}

func newPreLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-launch <entity-id>",
		Short: "Launcher hook: pull saves and start a play session",
		Long: `Run before a game starts. Pulls server-side save changes (when
sync_before_launch is enabled) and opens a play session. The session is
started even when the sync fails, so playtime is never lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			return withAgent(ctx, cc, func(a *agent) error {
				res := a.Service.PreLaunchSync(ctx, args[0])
				logResult(cc.Logger, "pre-launch sync", res)

				if session := a.Service.RecordSessionStart(ctx, args[0]); !session.Success {
					cc.Logger.Warn("could not start play session",
						slog.String("entity_id", args[0]),
						slog.String("error", session.Message),
					)
				}

				return printResult(cc, res)
			})
		},
	}
}

func newPostExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post-exit <entity-id>",
		Short: "Launcher hook: end the play session and push saves",
		Long: `Run after a game exits. Closes the play session opened by pre-launch
and pushes local save changes (when sync_after_exit is enabled).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			return withAgent(ctx, cc, func(a *agent) error {
				session := a.Service.RecordSessionEnd(ctx, args[0])
				if session.Success {
					cc.Statusf("Played %s.\n", formatDuration(session.Seconds))
				} else {
					cc.Logger.Info("no play session recorded",
						slog.String("entity_id", args[0]),
						slog.String("reason", session.Message),
					)
				}

				res := a.Service.PostExitSync(ctx, args[0])
				logResult(cc.Logger, "post-exit sync", res)

				return printResult(cc, res)
			})
		},
	}
}
