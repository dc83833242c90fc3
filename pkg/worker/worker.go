// Package worker runs one emulator's in-game pass: collect finished items,
// then keep asking the planner for the next action and hand each one to an
// Executor until nothing is left to start.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
)

// DefaultMaxActions bounds the number of actions started in one pass.
const DefaultMaxActions = 10

// Executor carries out a planned action inside the game. Implementations
// drive the device; this package only records the outcome.
type Executor interface {
	Execute(ctx context.Context, emu protocol.Emulator, action planner.Action) (Outcome, error)
}

// Outcome is what an Executor reports back for one action.
type Outcome struct {
	// Started is false when the game refused the action (missing
	// resources, builder busy on screen). The pass ends without error.
	Started bool
	// Duration is the in-game timer after any speed-ups. Zero means the
	// item completed immediately.
	Duration time.Duration
}

// Planner is the part of the action planner the runner needs.
type Planner interface {
	NextAction(ctx context.Context, emulatorID, lordLevel int) (*planner.Action, error)
}

// Store is the write side of the progress store used during a pass.
type Store interface {
	FinishDue(ctx context.Context, emulatorID int, now time.Time) (buildings, research int, err error)
	StartBuilding(ctx context.Context, emulatorID int, name string, at, eta time.Time) error
	StartResearch(ctx context.Context, emulatorID int, name string, at, eta time.Time) error
	FinishBuilding(ctx context.Context, emulatorID int, name string) error
	FinishResearch(ctx context.Context, emulatorID int, name string) error
	SetLordLevel(ctx context.Context, id, level int) error
	LogEvent(ctx context.Context, eventType, source string, emulatorID int, payload string) error
}

// Reporter receives progress while a pass runs. The dispatcher uses it to
// keep its task snapshot current.
type Reporter interface {
	ActionStarted(action planner.Action)
	Warn(msg string)
}

// Result summarises a finished pass.
type Result struct {
	Collected        int `json:"collected"`
	Actions          int `json:"actions"`
	BuildingsStarted int `json:"buildings_started"`
	ResearchStarted  int `json:"research_started"`
	LordLevel        int `json:"lord_level"`
}

// Runner implements the dispatcher's game runner.
type Runner struct {
	store      Store
	planner    Planner
	exec       Executor
	logger     *slog.Logger
	maxActions int
	nowFunc    func() time.Time
}

// NewRunner creates a Runner. maxActions <= 0 uses DefaultMaxActions.
func NewRunner(store Store, pl Planner, exec Executor, logger *slog.Logger, maxActions int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &Runner{
		store:      store,
		planner:    pl,
		exec:       exec,
		logger:     logger,
		maxActions: maxActions,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (r *Runner) SetNowFunc(f func() time.Time) {
	r.nowFunc = f
}

// Run performs one pass for emu. rep may be nil.
func (r *Runner) Run(ctx context.Context, emu protocol.Emulator, rep Reporter) (Result, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	res := Result{LordLevel: emu.LordLevel}

	b, rs, err := r.store.FinishDue(ctx, emu.ID, r.nowFunc())
	if err != nil {
		return res, fmt.Errorf("collect finished items: %w", err)
	}
	res.Collected = b + rs
	if res.Collected > 0 {
		r.logEvent(ctx, protocol.EventItemsCompleted, emu.ID, map[string]int{"buildings": b, "research": rs})
	}

	for res.Actions < r.maxActions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		action, err := r.planner.NextAction(ctx, emu.ID, res.LordLevel)
		if err != nil {
			return res, fmt.Errorf("plan next action: %w", err)
		}
		if action == nil {
			break
		}

		out, err := r.exec.Execute(ctx, emu, *action)
		if err != nil {
			return res, fmt.Errorf("execute %s: %w", action, err)
		}
		if !out.Started {
			r.logger.Info("action declined", "emulator", emu.ID, "action", action.String())
			rep.Warn("declined: " + action.String())
			break
		}
		if err := r.record(ctx, emu.ID, *action, out); err != nil {
			return res, err
		}

		res.Actions++
		switch action.Kind {
		case protocol.ActionBuilding:
			res.BuildingsStarted++
		case protocol.ActionResearch:
			res.ResearchStarted++
		case protocol.ActionLordUpgrade:
			res.LordLevel = action.ToLevel
		}
		rep.ActionStarted(*action)
		r.logEvent(ctx, protocol.EventActionStarted, emu.ID, action)
	}

	if res.Actions == r.maxActions {
		r.logger.Warn("action limit reached", "emulator", emu.ID, "limit", r.maxActions)
	}
	return res, nil
}

// record persists a started action. Zero-duration items finish at once.
func (r *Runner) record(ctx context.Context, emulatorID int, a planner.Action, out Outcome) error {
	now := r.nowFunc()
	eta := now.Add(out.Duration)
	var err error
	switch a.Kind {
	case protocol.ActionLordUpgrade:
		err = r.store.SetLordLevel(ctx, emulatorID, a.ToLevel)
	case protocol.ActionBuilding:
		err = r.store.StartBuilding(ctx, emulatorID, a.Name, now, eta)
		if err == nil && out.Duration <= 0 {
			err = r.store.FinishBuilding(ctx, emulatorID, a.Name)
		}
	case protocol.ActionResearch:
		err = r.store.StartResearch(ctx, emulatorID, a.Name, now, eta)
		if err == nil && out.Duration <= 0 {
			err = r.store.FinishResearch(ctx, emulatorID, a.Name)
		}
	default:
		err = errors.New("unknown action kind " + string(a.Kind))
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", a, err)
	}
	return nil
}

func (r *Runner) logEvent(ctx context.Context, eventType string, emulatorID int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("marshal event payload", "type", eventType, "error", err)
		return
	}
	if err := r.store.LogEvent(ctx, eventType, "worker", emulatorID, string(payload)); err != nil {
		r.logger.Warn("log event", "type", eventType, "emulator", emulatorID, "error", err)
	}
}

type nopReporter struct{}

func (nopReporter) ActionStarted(planner.Action) {}
func (nopReporter) Warn(string)                  {}
