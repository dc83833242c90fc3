package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"beastbot/pkg/config"
	"beastbot/pkg/metrics"

	"github.com/spf13/cobra"
)

// DaemonSpawner abstracts spawning the background scheduler for testability.
type DaemonSpawner interface {
	SpawnDaemon(args []string) (pid int, err error)
}

// ExecDaemonSpawner re-executes the current binary detached from the
// terminal.
type ExecDaemonSpawner struct{}

// SpawnDaemon starts os.Args[0] with args in a new session.
func (e *ExecDaemonSpawner) SpawnDaemon(args []string) (int, error) {
	child := exec.CommandContext(context.Background(), os.Args[0], args...) //nolint:gosec // intentionally re-executing self
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()
	return pid, nil
}

// pidPollTimeout is how long start waits for the child to write its PID file.
const pidPollTimeout = 5 * time.Second

// pidPollInterval is how often the PID file is checked.
const pidPollInterval = 50 * time.Millisecond

// startConfig holds the flags of "beastbot start".
type startConfig struct {
	maxConcurrent int
	metricsAddr   string
	foreground    bool
}

// newStartCmd creates the "beastbot start" subcommand.
func newStartCmd(opts *rootOptions) *cobra.Command {
	var cfg startConfig

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduling loop",
		Long: "Starts the scheduler in the background. It syncs config into the database,\n" +
			"then keeps up to --max-concurrent emulators busy until stopped.\n" +
			"With --foreground the loop runs in this process and logs to beastbot.log.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if cfg.foreground {
				runOpts := *opts
				if !cmd.Flags().Changed("log-level") {
					runOpts.logLevel = "info"
				}
				return runForeground(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), &runOpts, paths, cfg)
			}
			return runBackground(cmd.OutOrStdout(), opts, paths, cfg, &ExecDaemonSpawner{}, pidPollTimeout)
		},
	}

	cmd.Flags().IntVarP(&cfg.maxConcurrent, "max-concurrent", "n", 0, "concurrent emulators (default from settings.toml, else 2)")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	cmd.Flags().BoolVarP(&cfg.foreground, "foreground", "f", false, "run the loop in this process")

	return cmd
}

// runBackground spawns "beastbot start --foreground" and waits until the
// child has written its PID file.
func runBackground(w io.Writer, opts *rootOptions, paths *Paths, cfg startConfig, spawner DaemonSpawner, timeout time.Duration) error {
	if err := checkNotRunning(paths.PIDPath); err != nil {
		return err
	}

	args := []string{"start", "--foreground"}
	if opts.logLevel != "" && opts.logLevel != "warn" {
		args = append(args, "--log-level", opts.logLevel)
	}
	if cfg.maxConcurrent > 0 {
		args = append(args, "--max-concurrent", strconv.Itoa(cfg.maxConcurrent))
	}
	if cfg.metricsAddr != "" {
		args = append(args, "--metrics-addr", cfg.metricsAddr)
	}

	pid, err := spawner.SpawnDaemon(args)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		status, _, err := DaemonStatus(paths.PIDPath)
		if err == nil && status == StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("scheduler (PID %d) did not start within %s; see %s", pid, timeout, paths.LogPath)
		}
		time.Sleep(pidPollInterval)
	}

	fmt.Fprintf(w, "scheduler started (PID %d)\n", pid)
	fmt.Fprintf(w, "log: %s\n", paths.LogPath)
	return nil
}

// checkNotRunning fails when a live scheduler owns the PID file and clears a
// stale one.
func checkNotRunning(pidPath string) error {
	status, pid, err := DaemonStatus(pidPath)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		if pid != os.Getpid() {
			return fmt.Errorf("scheduler already running (PID %d)", pid)
		}
	case StatusStale:
		if err := RemovePIDFile(pidPath); err != nil {
			return err
		}
	case StatusStopped:
	}
	return nil
}

// runForeground runs the dispatcher until SIGTERM/SIGINT or ctx is done.
func runForeground(ctx context.Context, stdout, stderr io.Writer, opts *rootOptions, paths *Paths, cfg startConfig) error {
	if err := paths.ensureHome(); err != nil {
		return err
	}
	if err := checkNotRunning(paths.PIDPath); err != nil {
		return err
	}

	a, err := openApp(ctx, opts, stderr, paths.LogPath)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.syncConfig(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("config synced", "requirements", sum.Requirements, "bonus_windows", sum.BonusWindows, "emulators", sum.Emulators)

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}

	dcfg := a.settings.DispatcherConfig(paths.StatusPath)
	if cfg.maxConcurrent > 0 {
		dcfg.MaxConcurrent = cfg.maxConcurrent
	}

	m := metrics.New()
	d := a.newDispatcher(dcfg, m)

	runCtx, cleanup := SetupSignalHandler(ctx, paths.PIDPath,
		func() { _ = d.Reload(ctx) },
		d.ResetStats,
	)
	defer cleanup()

	if cfg.metricsAddr != "" {
		srv := &http.Server{Addr: cfg.metricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "addr", cfg.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", "addr", cfg.metricsAddr)
	}

	go func() {
		err := config.Watch(runCtx, paths.ConfigDir, config.DefaultDebounce, func() {
			a.logger.Info("config changed, reloading")
			_ = d.Reload(runCtx)
		}, a.logger)
		if err != nil && runCtx.Err() == nil {
			a.logger.Warn("config watcher stopped", "error", err)
		}
	}()

	fmt.Fprintf(stdout, "scheduler running (PID %d, max concurrent %d)\n", os.Getpid(), d.Config().MaxConcurrent)
	return d.Run(runCtx)
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
