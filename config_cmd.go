package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(cc.Out, cc.Cfg)
			}

			return config.RenderEffective(cc.Cfg, cc.ConfigPath, cc.Out)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Set a key in the config file, preserving comments",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := config.SetKey(cc.ConfigPath, args[0], args[1], args[2]); err != nil {
				return err
			}

			// Surface edits that leave the file invalid on next load.
			if _, err := config.Load(cc.ConfigPath); err != nil {
				return err
			}

			cc.Statusf("Set [%s] %s in %s\n", args[0], args[1], cc.ConfigPath)

			return nil
		},
	}
}
