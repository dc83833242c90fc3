package main

import (
	"fmt"

	"beastbot/pkg/config"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "beastbot init" subcommand.
func newInitCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write default configuration files",
		Long:  "Creates the state directory and writes settings.toml, game.yaml and\nbonus.yaml with built-in defaults. Existing files are left alone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if err := paths.ensureHome(); err != nil {
				return err
			}
			written, err := config.WriteDefaults(paths.ConfigDir)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(written) == 0 {
				fmt.Fprintf(w, "config already present in %s\n", paths.ConfigDir)
				return nil
			}
			for _, name := range written {
				fmt.Fprintf(w, "wrote %s\n", name)
			}
			fmt.Fprintf(w, "config directory: %s\n", paths.ConfigDir)
			return nil
		},
	}
}
