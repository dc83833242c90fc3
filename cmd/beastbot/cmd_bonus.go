package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"beastbot/pkg/bonus"
	"beastbot/pkg/config"

	"github.com/spf13/cobra"
)

// newBonusCmd creates the "beastbot bonus" subcommand.
func newBonusCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		stored   bool
	)

	cmd := &cobra.Command{
		Use:   "bonus",
		Short: "Show the weekly bonus schedule and the next window",
		Long: "Reads bonus.yaml (or the built-in schedule) and shows which categories are\n" +
			"active now and when the next window starts. Times are local. With --stored\n" +
			"the schedule is read from the database as written by the last sync.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want []bonus.Category
			if category != "" {
				c, ok := bonus.ParseCategory(category)
				if !ok {
					return fmt.Errorf("unknown category %q (known: %s)", category, categoryList())
				}
				want = []bonus.Category{c}
			} else {
				want = bonus.AllCategories()
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := config.LoadBonus(filepath.Join(a.paths.ConfigDir, config.BonusFile), a.logger)
			if err != nil {
				return err
			}
			sched := b.Schedule()
			p := newPrinter(cmd.OutOrStdout())
			if stored {
				rows, err := a.store.ListBonusWindows(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return fmt.Errorf("no stored bonus windows (run 'beastbot sync' first)")
				}
				sched = bonus.FromRows(rows, a.logger, bonus.WithTolerance(b.Tolerance), bonus.WithWeights(b.Weights))
				p.line("source: database, %d windows", len(sched.Windows()))
			}
			printBonus(p, sched, want, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "limit to one category ("+categoryList()+")")
	cmd.Flags().BoolVar(&stored, "stored", false, "show the schedule stored by the last sync")
	return cmd
}

func categoryList() string {
	names := make([]string, 0, len(bonus.AllCategories()))
	for _, c := range bonus.AllCategories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func printBonus(p *printer, s *bonus.Schedule, want []bonus.Category, now time.Time) {
	wanted := make(map[bonus.Category]bool, len(want))
	for _, c := range want {
		wanted[c] = true
	}

	active := s.ActiveCategories(now)
	if len(active) == 0 {
		p.line("active now: %s", p.muted.Render("none"))
	} else {
		names := make([]string, 0, len(active))
		for _, c := range active {
			names = append(names, fmt.Sprintf("%s (+%d)", c, s.Weight(c)))
		}
		p.line("active now: %s", p.ok.Render(strings.Join(names, ", ")))
	}

	if at, cats, ok := s.NextWindow(want, now); ok {
		names := make([]string, 0, len(cats))
		for _, c := range cats {
			names = append(names, string(c))
		}
		p.line("next window: %s %s (%s): %s", at.Weekday(), at.Format("15:04"), fmtWhen(at, now), strings.Join(names, ", "))
	} else {
		p.line("next window: %s", p.muted.Render("none scheduled"))
	}

	var rows [][]string
	for _, w := range s.Windows() {
		if !wanted[w.Category] {
			continue
		}
		dur := "-"
		if w.Duration > 0 {
			dur = w.Duration.String()
		}
		rows = append(rows, []string{
			w.Weekday.String(),
			fmt.Sprintf("%02d:%02d", w.Hour, w.Minute),
			string(w.Category),
			strconv.Itoa(s.Weight(w.Category)),
			dur,
			w.Description,
		})
	}
	if len(rows) == 0 {
		return
	}
	p.line("")
	p.table([]string{"DAY", "TIME", "CATEGORY", "BONUS", "DURATION", "DESCRIPTION"}, rows)
}
