package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// newSessionsCmd creates the "beastbot sessions" subcommand.
func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var (
		id     int
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recent processing sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.store.RecentSessions(ctx, limit, id)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
				return nil
			}

			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				result := p.ok.Render("ok")
				duration := "-"
				switch {
				case s.EndedAt.IsZero():
					result = p.warn.Render("running")
				case !s.Success:
					result = p.bad.Render("failed")
				}
				if !s.EndedAt.IsZero() {
					duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []string{
					fmtTime(s.StartedAt),
					strconv.Itoa(s.EmulatorID),
					duration,
					result,
					strconv.Itoa(s.Actions),
					strconv.Itoa(s.BuildingsStarted),
					strconv.Itoa(s.ResearchStarted),
					s.Error,
				})
			}
			p.table([]string{"STARTED", "EMULATOR", "DURATION", "RESULT", "ACTIONS", "BUILDINGS", "RESEARCH", "ERROR"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&id, "id", -1, "only sessions for this emulator")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of sessions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
