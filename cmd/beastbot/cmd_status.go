package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"beastbot/pkg/dispatcher"

	"github.com/spf13/cobra"
)

// statusReport is the --json shape of "beastbot status".
type statusReport struct {
	Daemon DaemonStatusValue    `json:"daemon"`
	PID    int                  `json:"pid,omitempty"`
	Status *dispatcher.Snapshot `json:"status,omitempty"`
}

// newStatusCmd creates the "beastbot status" subcommand.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state, active tasks and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			rep, err := collectStatus(paths)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printStatus(cmd.OutOrStdout(), rep, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// collectStatus combines the PID file with the last status snapshot. A
// missing snapshot is not an error.
func collectStatus(paths *Paths) (statusReport, error) {
	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return statusReport{}, err
	}
	rep := statusReport{Daemon: status, PID: pid}

	snap, err := dispatcher.ReadStatusFile(paths.StatusPath)
	switch {
	case err == nil:
		rep.Status = &snap
	case errors.Is(err, os.ErrNotExist):
	default:
		return rep, err
	}
	return rep, nil
}

func printStatus(w io.Writer, rep statusReport, now time.Time) {
	p := newPrinter(w)
	switch rep.Daemon {
	case StatusRunning:
		p.title("scheduler: %s (PID %d)", p.ok.Render("running"), rep.PID)
	case StatusStale:
		p.title("scheduler: %s (PID %d is gone)", p.bad.Render("stale"), rep.PID)
	default:
		p.title("scheduler: %s", p.muted.Render("stopped"))
	}

	snap := rep.Status
	if snap == nil {
		p.line("no status snapshot yet")
		return
	}
	p.line("snapshot: %s (%s)", fmtTime(snap.GeneratedAt), fmtWhen(snap.GeneratedAt, now))

	st := snap.Stats
	p.line("")
	p.line("processed %d  succeeded %d  failed %d  timed out %d", st.TotalProcessed, st.Succeeded, st.Failed, st.TimedOut)
	if st.TotalProcessed > 0 {
		p.line("average duration %s, last finished %s", st.AverageDuration.Round(time.Second), fmtWhen(st.LastFinished, now))
	}

	p.line("")
	p.line("active tasks: %d/%d", len(snap.Active), snap.MaxConcurrent)
	if len(snap.Active) == 0 {
		return
	}
	rows := make([][]string, 0, len(snap.Active))
	for _, t := range snap.Active {
		rows = append(rows, []string{
			strconv.Itoa(t.EmulatorID),
			t.Name,
			string(t.State),
			now.Sub(t.StartedAt).Round(time.Second).String(),
			strconv.Itoa(t.Actions),
			t.LastError(),
		})
	}
	p.table([]string{"ID", "NAME", "STATE", "RUNNING", "ACTIONS", "LAST ERROR"}, rows)
}
