package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"beastbot/pkg/eventlog"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail      int
	follow    bool
	eventType string
	id        int
	interval  time.Duration
}

// newLogsCmd creates the "beastbot logs" subcommand.
func newLogsCmd(opts *rootOptions) *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail the event log",
		Long:  "Displays events recorded by the scheduler and CLI, oldest first.\nOptionally filter by type or emulator and follow new events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			r := eventlog.FromDB(a.db)
			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(ctx, r, w, cfg)
			}
			last, err := printLogs(ctx, r, w, cfg)
			if err != nil {
				return err
			}
			if last == 0 {
				fmt.Fprintln(w, "no events found")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events")
	cmd.Flags().StringVarP(&cfg.eventType, "type", "t", "", "only events of this type (e.g. task_failed)")
	cmd.Flags().IntVar(&cfg.id, "id", -1, "only events for this emulator")
	cmd.Flags().DurationVar(&cfg.interval, "interval", time.Second, "poll interval for --follow")

	return cmd
}

func (c logsConfig) query(afterID int64, limit int) eventlog.QueryOpts {
	q := eventlog.QueryOpts{EventType: c.eventType, AfterID: afterID, Limit: limit}
	if c.id >= 0 {
		id := c.id
		q.EmulatorID = &id
	}
	return q
}

// printLogsAfter writes events after afterID in chronological order and returns
// the newest id written, or afterID when nothing matched.
func printLogsAfter(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg logsConfig, afterID int64, limit int) (int64, error) {
	events, err := r.Query(ctx, cfg.query(afterID, limit))
	if err != nil {
		return afterID, err
	}
	slices.Reverse(events)
	for _, e := range events {
		formatEvent(w, e)
		afterID = e.ID
	}
	return afterID, nil
}

// printLogs writes the last cfg.tail events.
func printLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg logsConfig) (int64, error) {
	return printLogsAfter(ctx, r, w, cfg, 0, cfg.tail)
}

// followLogs prints the tail and then polls for newer events until ctx is
// done.
func followLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg logsConfig) error {
	last, err := printLogs(ctx, r, w, cfg)
	if err != nil {
		return err
	}
	if cfg.interval <= 0 {
		cfg.interval = time.Second
	}
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last, err = printLogsAfter(ctx, r, w, cfg, last, 100)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func formatEvent(w io.Writer, e eventlog.Event) {
	emu := "-"
	if e.EmulatorID >= 0 {
		emu = fmt.Sprintf("#%d", e.EmulatorID)
	}
	line := fmt.Sprintf("%s  %-16s %-4s %-10s", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Type, emu, e.Source)
	if e.Payload != "" {
		line += " " + e.Payload
	}
	fmt.Fprintln(w, line)
}
