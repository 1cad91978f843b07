package main

import (
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record play sessions without syncing",
		Long: `Open or close a play session by hand. The launcher hooks pre-launch and
post-exit do this automatically; these commands are for launchers that
sync separately.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start <entity-id>",
			Short: "Open a play session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				cc := mustCLIContext(ctx)

				return withAgent(ctx, cc, func(a *agent) error {
					return printResult(cc, a.Service.RecordSessionStart(ctx, args[0]))
				})
			},
		},
		&cobra.Command{
			Use:   "end <entity-id>",
			Short: "Close the open play session and add it to the playtime total",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				cc := mustCLIContext(ctx)

				return withAgent(ctx, cc, func(a *agent) error {
					return printResult(cc, a.Service.RecordSessionEnd(ctx, args[0]))
				})
			},
		},
	)

	return cmd
}
