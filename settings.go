package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// Setting keys accepted by 'settings set'.
const (
	settingConflictMode     = "conflict_mode"
	settingSyncBeforeLaunch = "sync_before_launch"
	settingSyncAfterExit    = "sync_after_exit"
	settingClockSkew        = "clock_skew_tolerance"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the sync policy stored in the ledger",
		Long: `Show the sync policy the engine uses. The [sync] config section only seeds
the policy on first run; afterwards change it with 'settings set'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			return withAgent(ctx, cc, func(a *agent) error {
				return printPolicy(cc, a.Service.Settings())
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "Update one or more sync policy settings",
		Long: `Update the sync policy. Keys:
  conflict_mode         newest_wins, always_upload, always_download or ask_me
  sync_before_launch    true or false
  sync_after_exit       true or false
  clock_skew_tolerance  seconds, 0 to 86400`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseSettings(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			return withAgent(ctx, cc, func(a *agent) error {
				policy, err := a.Service.UpdateSettings(patch)
				if err != nil {
					return err
				}

				cc.Logger.Info("sync policy updated",
					slog.String("conflict_mode", string(policy.ConflictMode)),
					slog.Int("clock_skew_tolerance_sec", policy.ClockSkewTolerance),
				)

				return printPolicy(cc, policy)
			})
		},
	})

	return cmd
}

// parseSettings turns key=value arguments into a policy patch. Every bad
// argument is reported at once.
func parseSettings(args []string) (savesync.PolicyPatch, error) {
	var (
		patch savesync.PolicyPatch
		errs  []error
	)

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			errs = append(errs, fmt.Errorf("%q: expected key=value", arg))
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applySetting(&patch, key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	return patch, errors.Join(errs...)
}

func applySetting(patch *savesync.PolicyPatch, key, value string) error {
	switch key {
	case settingConflictMode:
		mode, err := savesync.ParseConflictMode(value)
		if err != nil {
			return err
		}

		patch.ConflictMode = &mode
	case settingSyncBeforeLaunch, settingSyncAfterExit:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}

		if key == settingSyncBeforeLaunch {
			patch.SyncBeforeLaunch = &b
		} else {
			patch.SyncAfterExit = &b
		}
	case settingClockSkew:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number of seconds %q", value)
		}

		patch.ClockSkewTolerance = &n
	default:
		return errors.New("unknown setting")
	}

	return nil
}

func printPolicy(cc *CLIContext, p savesync.SyncPolicy) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, p)
	}

	printTable(cc.Out, []string{"SETTING", "VALUE"}, [][]string{
		{settingConflictMode, string(p.ConflictMode)},
		{settingSyncBeforeLaunch, strconv.FormatBool(p.SyncBeforeLaunch)},
		{settingSyncAfterExit, strconv.FormatBool(p.SyncAfterExit)},
		{settingClockSkew, fmt.Sprintf("%ds", p.ClockSkewTolerance)},
	})

	return nil
}
