package dispatcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
	"beastbot/pkg/worker"

	"github.com/google/uuid"
)

// Task is an immutable snapshot of one emulator task. Every update builds a
// new value; callers may keep snapshots without copying.
type Task struct {
	ID               string             `json:"id"`
	EmulatorID       int                `json:"emulator_id"`
	Name             string             `json:"name"`
	State            protocol.TaskState `json:"state"`
	Priority         float64            `json:"priority"`
	StartedAt        time.Time          `json:"started_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Actions          int                `json:"actions"`
	BuildingsStarted int                `json:"buildings_started"`
	ResearchStarted  int                `json:"research_started"`
	Errors           []string           `json:"errors,omitempty"`
}

// LastError returns the newest error message, or "".
func (t Task) LastError() string {
	if len(t.Errors) == 0 {
		return ""
	}
	return t.Errors[len(t.Errors)-1]
}

// withError returns a copy of t with msg appended to a fresh error slice,
// keeping at most limit entries.
func (t Task) withError(msg string, limit int) Task {
	errs := make([]string, 0, len(t.Errors)+1)
	errs = append(errs, t.Errors...)
	errs = append(errs, msg)
	if len(errs) > limit {
		errs = errs[len(errs)-limit:]
	}
	t.Errors = errs
	return t
}

// trackedTask is the dispatcher's handle on a running task. snap is guarded
// by Dispatcher.mu and replaced wholesale.
type trackedTask struct {
	id        int
	startedAt time.Time
	priority  float64
	snap      Task
	ctx       context.Context
	cancel    context.CancelFunc
	settling  bool // finished, slot held until settle returns
}

// claim reserves a slot for emulatorID.
func (d *Dispatcher) claim(_ context.Context, emulatorID int, priority float64) (*trackedTask, error) {
	now := d.nowFunc()
	d.mu.Lock()
	if _, ok := d.tasks[emulatorID]; ok {
		d.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	if len(d.tasks) >= d.cfg.MaxConcurrent {
		d.mu.Unlock()
		return nil, ErrNoCapacity
	}
	ctx, cancel := context.WithTimeout(d.taskCtx, d.cfg.TaskTimeout)
	tt := &trackedTask{
		id:        emulatorID,
		startedAt: now,
		priority:  priority,
		snap: Task{
			ID:         uuid.NewString(),
			EmulatorID: emulatorID,
			State:      protocol.TaskStarting,
			Priority:   priority,
			StartedAt:  now,
			UpdatedAt:  now,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	d.tasks[emulatorID] = tt
	active := len(d.tasks)
	d.mu.Unlock()

	d.rec.TaskStarted()
	d.rec.SetActive(active)
	return tt, nil
}

// update applies fn to a copy of the task snapshot and stores the result.
// Terminal snapshots are frozen.
func (d *Dispatcher) update(tt *trackedTask, fn func(Task) Task) {
	now := d.nowFunc()
	d.mu.Lock()
	defer d.mu.Unlock()
	if tt.snap.State.Terminal() {
		return
	}
	next := fn(tt.snap)
	next.UpdatedAt = now
	tt.snap = next
}

func (d *Dispatcher) setState(tt *trackedTask, s protocol.TaskState) {
	d.update(tt, func(t Task) Task {
		t.State = s
		return t
	})
	d.logger.Debug("task state", "emulator", tt.id, "state", s)
}

func (d *Dispatcher) addError(tt *trackedTask, msg string) {
	d.update(tt, func(t Task) Task { return t.withError(msg, d.cfg.MaxTaskErrors) })
}

// ActiveTasks returns snapshots of every active task ordered by emulator id.
func (d *Dispatcher) ActiveTasks() []Task {
	d.mu.Lock()
	out := make([]Task, 0, len(d.tasks))
	for _, tt := range d.tasks {
		out = append(out, tt.snap)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EmulatorID < out[j].EmulatorID })
	return out
}

// ActiveCount returns the number of occupied slots.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// runTask walks one task through its states and returns the final snapshot.
func (d *Dispatcher) runTask(tt *trackedTask) Task {
	defer tt.cancel()
	ctx := tt.ctx
	id := tt.id

	emu, err := d.store.GetEmulator(ctx, id)
	if err != nil {
		return d.finish(tt, err, false)
	}
	taskID := ""
	if sid, err := d.store.StartSession(ctx, id, tt.startedAt); err != nil {
		d.logger.Warn("start session", "emulator", id, "error", err)
	} else {
		taskID = sid
	}
	d.update(tt, func(t Task) Task {
		t.Name = emu.Name
		if taskID != "" {
			t.ID = taskID
		}
		return t
	})
	d.logEvent(ctx, protocol.EventTaskStarted, id, map[string]any{"session": taskID, "priority": tt.priority})
	d.logger.Info("task started", "emulator", id, "name", emu.Name, "priority", tt.priority)

	startedByUs, runErr := d.ensureRunning(ctx, tt)
	if runErr == nil {
		d.setState(tt, protocol.TaskProcessing)
		_, runErr = d.runner.Run(ctx, emu, &taskReporter{d: d, tt: tt})
	}

	d.setState(tt, protocol.TaskStopping)
	if startedByUs {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.StopTimeout)
		if err := d.ctrl.Stop(stopCtx, id); err != nil {
			d.logger.Warn("stop emulator", "emulator", id, "error", err)
			d.addError(tt, err.Error())
		}
		cancel()
	}

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if timedOut && runErr == nil {
		runErr = ctx.Err()
	}
	return d.finish(tt, runErr, timedOut)
}

// finish releases the slot and records the outcome. A task that the reaper
// already reclaimed only gets its final snapshot returned.
func (d *Dispatcher) finish(tt *trackedTask, runErr error, timedOut bool) Task {
	now := d.nowFunc()
	d.mu.Lock()
	if cur, ok := d.tasks[tt.id]; !ok || cur != tt {
		snap := tt.snap
		d.mu.Unlock()
		d.logger.Warn("task finished after its slot was reclaimed", "emulator", tt.id, "state", snap.State)
		return snap
	}
	// The slot stays taken until the emulator is rescheduled, so a
	// scheduling pass in between cannot pick it again.
	tt.settling = true
	snap := tt.snap
	if timedOut {
		runErr = &protocol.TaskTimeoutError{EmulatorID: tt.id, Elapsed: now.Sub(tt.startedAt), Limit: d.cfg.TaskTimeout}
	}
	if runErr != nil {
		snap = snap.withError(runErr.Error(), d.cfg.MaxTaskErrors)
		snap.State = protocol.TaskError
	} else {
		snap.State = protocol.TaskCompleted
	}
	snap.UpdatedAt = now
	tt.snap = snap
	d.mu.Unlock()

	outcome := OutcomeSuccess
	switch {
	case timedOut:
		outcome = OutcomeTimeout
	case runErr != nil:
		outcome = OutcomeError
	}
	d.settle(snap, outcome, now)

	d.mu.Lock()
	if d.tasks[tt.id] == tt {
		delete(d.tasks, tt.id)
	}
	active := len(d.tasks)
	d.mu.Unlock()
	d.rec.SetActive(active)
	return snap
}

// reapOverdue reclaims slots whose task overran TaskTimeout plus the stop
// allowance, which means the task is ignoring its context.
func (d *Dispatcher) reapOverdue() {
	now := d.nowFunc()
	limit := d.cfg.TaskTimeout + d.cfg.StopTimeout

	d.mu.Lock()
	var reaped []Task
	for id, tt := range d.tasks {
		elapsed := now.Sub(tt.snap.StartedAt)
		if tt.settling || elapsed <= limit {
			continue
		}
		delete(d.tasks, id)
		tt.cancel()
		err := &protocol.TaskTimeoutError{EmulatorID: id, Elapsed: elapsed, Limit: d.cfg.TaskTimeout}
		snap := tt.snap.withError(err.Error(), d.cfg.MaxTaskErrors)
		snap.State = protocol.TaskError
		snap.UpdatedAt = now
		tt.snap = snap
		reaped = append(reaped, snap)
	}
	active := len(d.tasks)
	d.mu.Unlock()

	if len(reaped) == 0 {
		return
	}
	d.rec.SetActive(active)
	for _, snap := range reaped {
		d.logger.Error("task overran its timeout, slot reclaimed", "emulator", snap.EmulatorID, "started", snap.StartedAt)
		d.settle(snap, OutcomeTimeout, now)
	}
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOverdue()
		}
	}
}

// settle records stats, metrics, the session row and the next check time for
// a task that has left the active map.
func (d *Dispatcher) settle(snap Task, outcome string, now time.Time) {
	elapsed := now.Sub(snap.StartedAt)
	d.recordStats(outcome, elapsed, now)
	d.rec.TaskFinished(outcome, elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
	defer cancel()
	id := snap.EmulatorID

	if err := d.store.MarkProcessed(ctx, id, now); err != nil {
		d.logger.Warn("mark processed", "emulator", id, "error", err)
	}
	if next, err := d.sched.Reschedule(ctx, id); err != nil {
		d.logger.Warn("reschedule", "emulator", id, "error", err)
	} else {
		d.logger.Info("task finished", "emulator", id, "outcome", outcome,
			"elapsed", elapsed.Round(time.Second), "actions", snap.Actions, "next_check", next)
	}
	if err := d.store.FinishSession(ctx, protocol.Session{
		ID:               snap.ID,
		EmulatorID:       id,
		StartedAt:        snap.StartedAt,
		EndedAt:          now,
		Success:          outcome == OutcomeSuccess,
		Actions:          snap.Actions,
		BuildingsStarted: snap.BuildingsStarted,
		ResearchStarted:  snap.ResearchStarted,
		Error:            snap.LastError(),
	}); err != nil {
		d.logger.Warn("finish session", "emulator", id, "error", err)
	}

	evType := protocol.EventTaskCompleted
	switch outcome {
	case OutcomeError:
		evType = protocol.EventTaskFailed
	case OutcomeTimeout:
		evType = protocol.EventTaskTimeout
	}
	d.logEvent(ctx, evType, id, map[string]any{
		"task":    snap.ID,
		"elapsed": elapsed.Round(time.Second).String(),
		"actions": snap.Actions,
		"error":   snap.LastError(),
	})
}

// taskReporter feeds runner progress into the task snapshot.
type taskReporter struct {
	d  *Dispatcher
	tt *trackedTask
}

var _ worker.Reporter = (*taskReporter)(nil)

func (r *taskReporter) ActionStarted(a planner.Action) {
	r.d.update(r.tt, func(t Task) Task {
		t.Actions++
		switch a.Kind {
		case protocol.ActionBuilding:
			t.BuildingsStarted++
		case protocol.ActionResearch:
			t.ResearchStarted++
		}
		return t
	})
}

func (r *taskReporter) Warn(msg string) {
	r.d.addError(r.tt, msg)
}
