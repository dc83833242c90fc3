package main

import (
	"fmt"
	"strings"

	"beastbot/pkg/protocol"

	"github.com/spf13/cobra"
)

// newSpeedupCmd creates the "beastbot speedup" subcommand.
func newSpeedupCmd(opts *rootOptions) *cobra.Command {
	var on, off bool

	cmd := &cobra.Command{
		Use:       "speedup building|research <id> <name...> --on|--off",
		Short:     "Allow or forbid speed-up items for one building or research",
		Args:      cobra.MinimumNArgs(3),
		ValidArgs: []string{"building", "research"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != "building" && kind != "research" {
				return fmt.Errorf("unknown kind %q: want building or research", kind)
			}
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			name := strings.Join(args[2:], " ")

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			if kind == "building" {
				err = a.store.SetBuildingSpeedup(ctx, id, name, on)
			} else {
				err = a.store.SetResearchSpeedup(ctx, id, name, on)
			}
			if err != nil {
				return err
			}
			a.logEvent(ctx, protocol.EventSpeedupToggled, id, map[string]any{"kind": kind, "name": name, "enabled": on})

			state := "on"
			if !on {
				state = "off"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emulator %d %s %q speed-ups %s\n", id, kind, name, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&on, "on", false, "use speed-ups")
	cmd.Flags().BoolVar(&off, "off", false, "do not use speed-ups")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	cmd.MarkFlagsOneRequired("on", "off")
	return cmd
}
