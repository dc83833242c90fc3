package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// DaemonStatusValue is what the PID file says about the background scheduler.
type DaemonStatusValue string

// Scheduler process states.
const (
	StatusRunning DaemonStatusValue = "running" // PID recorded and alive
	StatusStopped DaemonStatusValue = "stopped" // no PID file
	StatusStale   DaemonStatusValue = "stale"   // PID recorded, process gone
)

// WritePIDFile records pid at path. The file is written next to its final
// name and renamed into place so readers never see a partial number.
func WritePIDFile(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the PID stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from ResolvePaths
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse PID from %s: invalid pid %d", path, pid)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file; a missing file is fine.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", path, err)
	}
	return nil
}

// IsProcessAlive probes pid with signal 0. EPERM still means the process
// exists, it just belongs to someone else.
func IsProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// DaemonStatus combines the PID file and a liveness probe. The PID is zero
// when stopped.
func DaemonStatus(pidPath string) (status DaemonStatusValue, pid int, err error) {
	pid, err = ReadPIDFile(pidPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusStopped, 0, nil
	case err != nil:
		return StatusStopped, 0, fmt.Errorf("daemon status: %w", err)
	case IsProcessAlive(pid):
		return StatusRunning, pid, nil
	default:
		return StatusStale, pid, nil
	}
}

// SignalDaemon delivers sig to the scheduler named in the PID file.
func SignalDaemon(pidPath string, sig syscall.Signal) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("signal scheduler: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %s to PID %d: %w", sig, pid, err)
	}
	return nil
}

// StopDaemon asks the scheduler to shut down gracefully.
func StopDaemon(pidPath string) error {
	return SignalDaemon(pidPath, syscall.SIGTERM)
}

// SetupSignalHandler wires the scheduler's signals. SIGTERM or SIGINT cancels
// shutdownCtx, SIGHUP runs onReload and SIGUSR1 runs onResetStats (nil hooks
// are skipped). Defer cleanup: it cancels the context and drops the PID file.
func SetupSignalHandler(parent context.Context, pidPath string, onReload, onResetStats func()) (shutdownCtx context.Context, cleanup func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					if onReload != nil {
						onReload()
					}
				case syscall.SIGUSR1:
					if onResetStats != nil {
						onResetStats()
					}
				default:
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	cleanup = func() {
		cancel()
		_ = RemovePIDFile(pidPath)
	}

	return ctx, cleanup
}
