package main

import (
	"fmt"
	"strings"

	"beastbot/pkg/protocol"

	"github.com/spf13/cobra"
)

// newEnableCmd creates "beastbot enable" or "beastbot disable".
func newEnableCmd(opts *rootOptions, enable bool) *cobra.Command {
	use, short := "enable <id>", "Include an emulator in scheduling"
	if !enable {
		use, short = "disable <id>", "Exclude an emulator from scheduling"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetEnabled(ctx, id, enable); err != nil {
				return err
			}
			a.logEvent(ctx, protocol.EventEnabledChanged, id, map[string]bool{"enabled": enable})
			state := "enabled"
			if !enable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emulator %d %s\n", id, state)
			return nil
		},
	}
}

// newNoteCmd creates the "beastbot note" subcommand.
func newNoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text...>",
		Short: "Attach a free-text note to an emulator",
		Long:  "Sets the emulator's note. An empty text clears it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			note := strings.Join(args[1:], " ")
			if err := a.store.SetNote(ctx, id, note); err != nil {
				return err
			}
			if note == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "emulator %d note cleared\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emulator %d note set\n", id)
			return nil
		},
	}
}
