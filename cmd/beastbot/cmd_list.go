package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// newListCmd creates the "beastbot list" subcommand.
func newListCmd(opts *rootOptions) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered emulators and their schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			emus, err := a.store.ListEmulators(ctx, enabledOnly)
			if err != nil {
				return err
			}
			if len(emus) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no emulators registered; run 'beastbot scan'")
				return nil
			}

			now := time.Now()
			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(emus))
			for _, e := range emus {
				wait := "-"
				if e.WaitingForBonus {
					wait = p.warn.Render(fmtWhen(e.BonusTarget, now))
				}
				rows = append(rows, []string{
					strconv.Itoa(e.ID),
					e.Name,
					p.yesNo(e.Enabled),
					strconv.Itoa(e.LordLevel),
					fmtWhen(e.LastProcessed, now),
					fmtWhen(e.NextCheck, now),
					strconv.FormatFloat(e.PriorityScore, 'f', 1, 64),
					wait,
					e.Note,
				})
			}
			p.table([]string{"ID", "NAME", "ENABLED", "LORD", "LAST RUN", "NEXT CHECK", "SCORE", "BONUS WAIT", "NOTE"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled emulators")
	return cmd
}
