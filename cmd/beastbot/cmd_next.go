package main

import (
	"fmt"
	"strconv"

	"beastbot/pkg/planner"

	"github.com/spf13/cobra"
)

// newNextCmd creates the "beastbot next" subcommand.
func newNextCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show the action the planner would take for an emulator",
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
			if err := a.loadEngine(); err != nil {
				return err
			}

			emu, err := a.store.GetEmulator(ctx, id)
			if err != nil {
				return err
			}
			plan, err := a.planner.Plan(ctx, id, emu.LordLevel)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(newPrinter(cmd.OutOrStdout()), emu.Name, plan, limit)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "candidates to list (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printPlan(p *printer, name string, plan planner.Plan, limit int) {
	p.title("emulator %d %s (lord %d)", plan.EmulatorID, name, plan.LordLevel)
	s := plan.Slots
	p.line("builders %d/%d busy, research %d/%d busy",
		s.BuildingsInProgress, s.BuilderSlots, s.ResearchInProgress, planner.ResearchSlots)
	if plan.LordUpgradeReady {
		p.line("lord upgrade requirements met")
	}

	if plan.Next == nil {
		p.line("next action: %s", p.muted.Render("none"))
	} else {
		p.line("next action: %s", p.ok.Render(plan.Next.String()))
	}

	cands := plan.Candidates
	if len(cands) == 0 {
		return
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	rows := make([][]string, 0, len(cands))
	for i, c := range cands {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(c.Kind),
			c.Name,
			fmt.Sprintf("%d→%d", c.FromLevel, c.ToLevel),
			strconv.Itoa(c.Priority),
			strconv.Itoa(c.Bonus),
			p.yesNo(c.Blocking),
			p.yesNo(c.Speedup),
		})
	}
	p.line("")
	p.table([]string{"#", "KIND", "NAME", "LEVEL", "PRIORITY", "BONUS", "BLOCKING", "SPEEDUP"}, rows)
	if len(plan.Candidates) > len(cands) {
		p.line("%d more candidates", len(plan.Candidates)-len(cands))
	}
}
