package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/romm-sync/internal/config"
	"github.com/tonimelisma/romm-sync/internal/library"
)

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage the installed games whose saves are synced",
	}

	cmd.AddCommand(newLibraryAddCmd(), newLibraryListCmd(), newLibraryRemoveCmd())

	return cmd
}

func newLibraryAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <entity-id>",
		Short: "Register an installed game",
		Long: `Register an installed game by its server id.

Save files are found in <saves_root>/<system>/ (or --save-dir) and must share
the ROM file's name stem, e.g. "Zelda (USA).sfc" owns "Zelda (USA).srm".`,
		Args: cobra.ExactArgs(1),
		RunE: runLibraryAdd,
	}

	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("file", "", "ROM file name (required)")
	cmd.Flags().String("system", "", "system/platform slug, e.g. snes")
	cmd.Flags().String("emulator", "", "emulator label sent with uploads")
	cmd.Flags().String("save-dir", "", "save directory override")

	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}

	return cmd
}

func runLibraryAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	e := library.Entity{ID: args[0]}

	var err error

	for flag, dst := range map[string]*string{
		"name": &e.Name, "file": &e.FileName, "system": &e.System,
		"emulator": &e.Emulator, "save-dir": &e.SaveDir,
	} {
		if *dst, err = cmd.Flags().GetString(flag); err != nil {
			return err
		}
	}

	if e.SaveDir != "" {
		e.SaveDir = config.ExpandTilde(e.SaveDir)
	}

	registry, err := library.OpenRegistry(cc.Cfg.LibraryPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := registry.Put(e); err != nil {
		return err
	}

	cc.Statusf("Added %s (%s).\n", e.ID, e.FileName)

	return nil
}

func newLibraryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered games",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			registry, err := library.OpenRegistry(cc.Cfg.LibraryPath(), cc.Logger)
			if err != nil {
				return err
			}
			defer registry.Close()

			list, err := registry.List()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if list == nil {
					list = []library.Entity{}
				}

				return printJSON(cc.Out, list)
			}

			if len(list) == 0 {
				fmt.Fprintln(cc.Out, "No games registered.")
				return nil
			}

			locator := library.NewLocator(afero.NewOsFs(), registry, cc.Cfg.Paths.SavesRoot, cc.Cfg.Saves.Extensions, cc.Logger)

			rows := make([][]string, 0, len(list))
			for i := range list {
				e := &list[i]
				dir, _ := locator.SaveDirectoryFor(e.ID)
				rows = append(rows, []string{e.ID, e.Name, e.System, e.Emulator, e.FileName, dir})
			}

			printTable(cc.Out, []string{"ID", "NAME", "SYSTEM", "EMULATOR", "ROM", "SAVE DIR"}, rows)

			return nil
		},
	}
}

func newLibraryRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <entity-id>",
		Short: "Unregister a game (local saves and the ledger are left alone)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			registry, err := library.OpenRegistry(cc.Cfg.LibraryPath(), cc.Logger)
			if err != nil {
				return err
			}
			defer registry.Close()

			if err := registry.Delete(args[0]); err != nil {
				return err
			}

			cc.Statusf("Removed %s.\n", args[0])

			return nil
		},
	}
}
