package main

import (
	"errors"
	"fmt"
	"strconv"

	"beastbot/pkg/protocol"

	"github.com/spf13/cobra"
)

// newScanCmd creates the "beastbot scan" subcommand.
func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover emulator instances and register them",
		Long:  "Lists instances through the emulator console, records new ones and seeds\ntheir building and research rows from game.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			instances, err := a.ctrl.List(ctx)
			if err != nil {
				return fmt.Errorf("list emulators: %w", err)
			}

			seed := true
			if err := a.loadEngine(); err != nil {
				var ce *protocol.ConfigError
				if !errors.As(err, &ce) {
					return err
				}
				seed = false
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\nprogress rows not seeded; run 'beastbot sync' once config is in place\n", err)
			}

			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(instances))
			added := 0
			for _, inst := range instances {
				created, err := a.store.UpsertEmulator(ctx, inst.Index, inst.Name)
				if err != nil {
					return err
				}
				if created {
					added++
				}
				if seed {
					if err := a.seed(ctx, inst.Index); err != nil {
						return err
					}
				}
				rows = append(rows, []string{strconv.Itoa(inst.Index), inst.Name, p.yesNo(inst.Running), p.yesNo(created)})
			}
			a.logEvent(ctx, protocol.EventScan, -1, map[string]int{"found": len(instances), "new": added})

			if len(instances) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no emulator instances found")
				return nil
			}
			p.table([]string{"ID", "NAME", "RUNNING", "NEW"}, rows)
			p.line("%d instances, %d new", len(instances), added)
			return nil
		},
	}
}
