package worker

import (
	"context"
	"log/slog"
	"time"

	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
)

// LogExecutor is a dry-run Executor. It logs every action, accepts it, and
// reports a synthetic timer so the scheduler has something to work with.
type LogExecutor struct {
	Logger *slog.Logger
	// PerLevel is the synthetic timer per target level (default 10m).
	PerLevel time.Duration
}

// Execute implements Executor.
func (e *LogExecutor) Execute(_ context.Context, emu protocol.Emulator, a planner.Action) (Outcome, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run", "emulator", emu.ID, "action", a.String(), "speedup", a.Speedup)

	if a.Kind == protocol.ActionLordUpgrade {
		return Outcome{Started: true}, nil
	}
	per := e.PerLevel
	if per <= 0 {
		per = 10 * time.Minute
	}
	d := time.Duration(a.ToLevel) * per
	if a.Speedup {
		d /= 2
	}
	return Outcome{Started: true, Duration: d}, nil
}
