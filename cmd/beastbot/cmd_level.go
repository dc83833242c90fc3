package main

import (
	"fmt"
	"strconv"
	"strings"

	"beastbot/pkg/protocol"

	"github.com/spf13/cobra"
)

// newLevelCmd creates the "beastbot level" subcommand. It corrects stored
// levels when the game and the database have drifted apart.
func newLevelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "level <id> lord|building|research [name...] <level>",
		Short: "Overwrite a stored lord, building or research level",
		Example: "  beastbot level 0 lord 14\n" +
			"  beastbot level 0 building Beast Nest 12",
		Args:      cobra.MinimumNArgs(3),
		ValidArgs: []string{"lord", "building", "research"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			kind := args[1]
			level, err := strconv.Atoi(args[len(args)-1])
			if err != nil || level < 0 {
				return fmt.Errorf("invalid level %q", args[len(args)-1])
			}
			name := strings.Join(args[2:len(args)-1], " ")

			switch kind {
			case "lord":
				if name != "" {
					return fmt.Errorf("lord takes no name, got %q", name)
				}
				if level < 1 {
					return fmt.Errorf("lord level must be at least 1")
				}
			case "building", "research":
				if name == "" {
					return fmt.Errorf("%s needs a name", kind)
				}
			default:
				return fmt.Errorf("unknown kind %q: want lord, building or research", kind)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			switch kind {
			case "lord":
				err = a.store.SetLordLevel(ctx, id, level)
			case "building":
				err = a.store.SetBuildingLevel(ctx, id, name, level)
			default:
				err = a.store.SetResearchLevel(ctx, id, name, level)
			}
			if err != nil {
				return err
			}
			a.logEvent(ctx, protocol.EventLevelCorrected, id, map[string]any{"kind": kind, "name": name, "level": level})

			if kind == "lord" {
				fmt.Fprintf(cmd.OutOrStdout(), "emulator %d lord level set to %d\n", id, level)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "emulator %d %s %q level set to %d\n", id, kind, name, level)
			}
			return nil
		},
	}
}
