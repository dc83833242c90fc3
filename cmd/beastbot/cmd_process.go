package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newProcessCmd creates the "beastbot process" subcommand.
func newProcessCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Run one pass for an emulator now, ignoring its schedule",
		Long: "Starts the emulator if needed, runs the game pass, stops it again and\n" +
			"reschedules it. Refuses while the background scheduler is running unless\n" +
			"--force is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if status, pid, err := DaemonStatus(paths.PIDPath); err == nil && status == StatusRunning && !force {
				return fmt.Errorf("scheduler is running (PID %d); stop it or pass --force", pid)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.syncConfig(ctx); err != nil {
				return err
			}

			d := a.newDispatcher(a.settings.DispatcherConfig(""), nil)
			task, runErr := d.ProcessOne(ctx, id)

			w := cmd.OutOrStdout()
			if task.ID != "" {
				fmt.Fprintf(w, "emulator %d: %s after %s, %d actions (%d buildings, %d research)\n",
					id, task.State, task.UpdatedAt.Sub(task.StartedAt).Round(time.Second),
					task.Actions, task.BuildingsStarted, task.ResearchStarted)
			}
			if runErr != nil {
				return runErr
			}
			emu, err := a.store.GetEmulator(ctx, id)
			if err == nil {
				fmt.Fprintf(w, "next check %s\n", fmtTime(emu.NextCheck))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "run even while the background scheduler is active")
	return cmd
}
