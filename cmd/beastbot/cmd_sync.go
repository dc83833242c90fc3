package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the "beastbot sync" subcommand.
func newSyncCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load game.yaml and bonus.yaml into the database",
		Long: "Replaces lord requirements and bonus windows with the config files' content\n" +
			"and adds missing building and research rows for every emulator. Existing\n" +
			"progress is kept. A running scheduler picks up file changes on its own.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.syncConfig(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, a.cfg.Game.Summary())
			fmt.Fprintf(w, "synced %d requirements, %d bonus windows, %d emulators\n",
				sum.Requirements, sum.BonusWindows, sum.Emulators)
			if a.cfg.Bonus.Defaulted {
				fmt.Fprintln(w, "bonus.yaml not found; using the built-in schedule")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
