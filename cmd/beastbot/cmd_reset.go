package main

import (
	"fmt"
	"syscall"

	"beastbot/pkg/protocol"

	"github.com/spf13/cobra"
)

// newResetCmd creates the "beastbot reset" subcommand.
func newResetCmd(opts *rootOptions) *cobra.Command {
	var (
		id    int
		stats bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear next-check times and bonus waits",
		Long: "Makes emulators eligible again by clearing their next-check time and any\n" +
			"bonus wait. Without --id every emulator is reset. With --stats the running\n" +
			"scheduler's counters are zeroed instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if stats {
				paths, err := ResolvePaths()
				if err != nil {
					return fmt.Errorf("resolve paths: %w", err)
				}
				status, pid, err := DaemonStatus(paths.PIDPath)
				if err != nil {
					return err
				}
				if status != StatusRunning {
					return fmt.Errorf("scheduler is not running")
				}
				if err := SignalDaemon(paths.PIDPath, syscall.SIGUSR1); err != nil {
					return err
				}
				fmt.Fprintf(w, "statistics reset requested (PID %d)\n", pid)
				return nil
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.ResetSchedule(ctx, id)
			if err != nil {
				return err
			}
			a.logEvent(ctx, protocol.EventScheduleReset, id, map[string]int64{"emulators": n})
			if id >= 0 {
				fmt.Fprintf(w, "emulator %d schedule reset\n", id)
				return nil
			}
			fmt.Fprintf(w, "%d emulators reset\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&id, "id", -1, "emulator to reset (default all)")
	cmd.Flags().BoolVar(&stats, "stats", false, "reset the running scheduler's statistics")
	cmd.MarkFlagsMutuallyExclusive("id", "stats")
	return cmd
}
