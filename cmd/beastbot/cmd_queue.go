package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"beastbot/pkg/protocol"
	"beastbot/pkg/scheduler"

	"github.com/spf13/cobra"
)

// queueEntry is one emulator in the queue preview.
type queueEntry struct {
	Priority scheduler.EmulatorPriority `json:"priority"`
	Eligible bool                       `json:"eligible"`
	Reason   string                     `json:"reason,omitempty"`
}

// newQueueCmd creates the "beastbot queue" subcommand.
func newQueueCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Preview emulator priorities without changing anything",
		Long: "Scores every enabled emulator the way the scheduler would and shows why\n" +
			"each one is or is not eligible right now. Nothing is written back.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.loadEngine(); err != nil {
				return err
			}

			emus, err := a.store.ListEmulators(ctx, true)
			if err != nil {
				return err
			}
			now := time.Now()
			entries := make([]queueEntry, 0, len(emus))
			for _, e := range emus {
				p, err := a.sched.Evaluate(ctx, e)
				if err != nil {
					a.logger.Warn("evaluate", "emulator", e.ID, "error", err)
					continue
				}
				eligible, reason := eligibility(e, p, now)
				entries = append(entries, queueEntry{Priority: p, Eligible: eligible, Reason: reason})
			}
			sort.SliceStable(entries, func(i, j int) bool {
				if entries[i].Eligible != entries[j].Eligible {
					return entries[i].Eligible
				}
				return entries[i].Priority.Total > entries[j].Priority.Total
			})
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no enabled emulators")
				return nil
			}
			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(entries))
			for _, en := range entries {
				pr := en.Priority
				action := "-"
				if pr.Action != nil {
					action = pr.Action.String()
				}
				state := p.ok.Render("ready")
				if !en.Eligible {
					state = p.muted.Render(en.Reason)
				}
				rows = append(rows, []string{
					strconv.Itoa(pr.EmulatorID),
					pr.Name,
					strconv.FormatFloat(pr.Total, 'f', 1, 64),
					state,
					action,
					formatFactors(pr.Factors()),
				})
			}
			p.table([]string{"ID", "NAME", "SCORE", "STATE", "NEXT ACTION", "FACTORS"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "show at most N emulators (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// eligibility mirrors the scheduler's gate for display.
func eligibility(e protocol.Emulator, p scheduler.EmulatorPriority, now time.Time) (bool, string) {
	switch {
	case !e.NextCheck.IsZero() && e.NextCheck.After(now):
		return false, "next check " + fmtWhen(e.NextCheck, now)
	case e.WaitingForBonus && e.BonusTarget.After(now):
		return false, "bonus wait " + fmtWhen(e.BonusTarget, now)
	case p.Total <= 0:
		return false, "nothing to do"
	default:
		return true, ""
	}
}

func formatFactors(fs []scheduler.Factor) string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Name, strconv.FormatFloat(f.Value, 'f', -1, 64)))
	}
	return strings.Join(parts, " ")
}
