package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the status file written while the loop runs.
type Snapshot struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	GeneratedAt   time.Time `json:"generated_at"`
	MaxConcurrent int       `json:"max_concurrent"`
	Active        []Task    `json:"active"`
	Stats         Stats     `json:"stats"`
}

// Snapshot captures the current state.
func (d *Dispatcher) Snapshot(running bool) Snapshot {
	return Snapshot{
		Running:       running,
		PID:           os.Getpid(),
		GeneratedAt:   d.nowFunc(),
		MaxConcurrent: d.cfg.MaxConcurrent,
		Active:        d.ActiveTasks(),
		Stats:         d.Stats(),
	}
}

// WriteStatusFile writes snap to path atomically.
func WriteStatusFile(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}

// ReadStatusFile loads a snapshot written by WriteStatusFile.
func ReadStatusFile(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return snap, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse status: %w", err)
	}
	return snap, nil
}

func (d *Dispatcher) writeStatus(running bool) {
	if d.cfg.StatusPath == "" {
		return
	}
	if err := WriteStatusFile(d.cfg.StatusPath, d.Snapshot(running)); err != nil {
		d.logger.Warn("write status file", "path", d.cfg.StatusPath, "error", err)
	}
}

func (d *Dispatcher) statusLoop(ctx context.Context) {
	if d.cfg.StatusPath == "" {
		return
	}
	d.writeStatus(true)
	ticker := time.NewTicker(d.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeStatus(true)
		}
	}
}
