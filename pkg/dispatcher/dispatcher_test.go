package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"beastbot/pkg/protocol"
	"beastbot/pkg/worker"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := (&Config{MaxConcurrent: 4}).withDefaults()
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want override kept", cfg.MaxConcurrent)
	}
	if cfg.PollInterval != 10*time.Second || cfg.TaskTimeout != 30*time.Minute || cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.StartRetries != 3 || cfg.MaxTaskErrors != 10 {
		t.Errorf("retry defaults not applied: %+v", cfg)
	}
}

func TestDispatcher_ProcessesEligibleEmulators(t *testing.T) {
	h := newHarness(Config{}, 0, 1)
	h.start(t)

	// task_completed is the last thing a task records.
	waitFor(t, func() bool { return h.store.countEvents(protocol.EventTaskCompleted) == 2 }, 2*time.Second)

	stats := h.d.Stats()
	if stats.Succeeded != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 successes", stats)
	}
	starts, stops := h.ctrl.counts()
	if starts != 2 || stops != 2 {
		t.Errorf("starts = %d stops = %d, want 2 each", starts, stops)
	}
	for _, id := range []int{0, 1} {
		if h.sched.rescheduleCount(id) != 1 {
			t.Errorf("emulator %d rescheduled %d times, want 1", id, h.sched.rescheduleCount(id))
		}
	}
	sessions := h.store.finishedSessions()
	if len(sessions) != 2 {
		t.Fatalf("finished sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if !s.Success || s.Actions != 1 || s.BuildingsStarted != 1 {
			t.Errorf("session = %+v, want success with one building", s)
		}
	}
	if n := h.store.countEvents(protocol.EventTaskStarted); n != 2 {
		t.Errorf("task_started events = %d, want 2", n)
	}
	if started, outcomes, _ := h.rec.snapshot(); started != 2 || outcomes[OutcomeSuccess] != 2 {
		t.Errorf("recorder started = %d outcomes = %v", started, outcomes)
	}
}

func TestDispatcher_RespectsMaxConcurrent(t *testing.T) {
	h := newHarness(Config{MaxConcurrent: 2}, 0, 1, 2, 3)
	release := make(chan struct{})
	h.run.run = func(ctx context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return worker.Result{}, nil
	}
	h.start(t)

	waitFor(t, func() bool { return h.d.ActiveCount() == 2 }, 2*time.Second)
	// Give the poll loop a few more ticks to overfill if it were going to.
	time.Sleep(50 * time.Millisecond)
	if n := h.d.ActiveCount(); n != 2 {
		t.Fatalf("active = %d, want 2", n)
	}
	close(release)

	waitFor(t, func() bool { return h.d.Stats().TotalProcessed == 4 }, 2*time.Second)
	if _, peak := h.run.stats(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestDispatcher_ActiveTaskStates(t *testing.T) {
	h := newHarness(Config{}, 7)
	inRunner := make(chan struct{})
	release := make(chan struct{})
	h.run.run = func(_ context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		close(inRunner)
		<-release
		return worker.Result{}, nil
	}

	done := make(chan Task, 1)
	go func() {
		task, _ := h.d.ProcessOne(context.Background(), 7)
		done <- task
	}()

	<-inRunner
	tasks := h.d.ActiveTasks()
	if len(tasks) != 1 || tasks[0].State != protocol.TaskProcessing || tasks[0].EmulatorID != 7 {
		t.Fatalf("active tasks = %+v, want emulator 7 processing", tasks)
	}
	if tasks[0].ID == "" || tasks[0].Name != "emu" {
		t.Errorf("task snapshot = %+v", tasks[0])
	}

	if _, err := h.d.ProcessOne(context.Background(), 7); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second ProcessOne err = %v, want ErrAlreadyActive", err)
	}

	close(release)
	final := <-done
	if final.State != protocol.TaskCompleted {
		t.Errorf("final state = %s, want completed", final.State)
	}
	if h.d.ActiveCount() != 0 {
		t.Error("slot not released")
	}
}

func TestDispatcher_ProcessOneUnknownEmulator(t *testing.T) {
	h := newHarness(Config{})
	_, err := h.d.ProcessOne(context.Background(), 42)
	var nf *protocol.EmulatorNotFoundError
	if !errors.As(err, &nf) || nf.ID != 42 {
		t.Errorf("err = %v, want EmulatorNotFoundError{42}", err)
	}
}

func TestDispatcher_ProcessOneNoCapacity(t *testing.T) {
	h := newHarness(Config{MaxConcurrent: 1}, 0, 1)
	release := make(chan struct{})
	h.run.run = func(_ context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		<-release
		return worker.Result{}, nil
	}
	go func() { _, _ = h.d.ProcessOne(context.Background(), 0) }()
	waitFor(t, func() bool { return h.d.ActiveCount() == 1 }, time.Second)

	if _, err := h.d.ProcessOne(context.Background(), 1); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("err = %v, want ErrNoCapacity", err)
	}
	close(release)
	waitFor(t, func() bool { return h.d.ActiveCount() == 0 }, time.Second)
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	h := newHarness(Config{TaskTimeout: 50 * time.Millisecond}, 0)
	h.run.run = func(ctx context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}

	task, err := h.d.ProcessOne(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if task.State != protocol.TaskError || !strings.Contains(task.LastError(), "timed out") {
		t.Errorf("task = %+v, want timeout error", task)
	}
	stats := h.d.Stats()
	if stats.TimedOut != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want one timeout", stats)
	}
	if _, stops := h.ctrl.counts(); stops != 1 {
		t.Errorf("stops = %d, want emulator stopped after timeout", stops)
	}
	if !h.store.hasEvent(protocol.EventTaskTimeout) {
		t.Error("want a task_timeout event")
	}
}

func TestDispatcher_ReapsTaskIgnoringContext(t *testing.T) {
	h := newHarness(Config{TaskTimeout: time.Hour, StopTimeout: time.Minute}, 0)
	release := make(chan struct{})
	h.run.run = func(_ context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		<-release
		return worker.Result{}, nil
	}

	done := make(chan Task, 1)
	go func() {
		task, _ := h.d.ProcessOne(context.Background(), 0)
		done <- task
	}()
	waitFor(t, func() bool {
		tasks := h.d.ActiveTasks()
		return len(tasks) == 1 && tasks[0].State == protocol.TaskProcessing
	}, time.Second)

	h.d.reapOverdue()
	if h.d.ActiveCount() != 1 {
		t.Fatal("task reaped before its deadline")
	}

	start := time.Now()
	h.d.nowFunc = func() time.Time { return start.Add(2 * time.Hour) }
	h.d.reapOverdue()
	if h.d.ActiveCount() != 0 {
		t.Fatal("overdue task not reaped")
	}
	if s := h.d.Stats(); s.TimedOut != 1 || s.TotalProcessed != 1 {
		t.Errorf("stats after reap = %+v", s)
	}

	close(release)
	final := <-done
	if final.State != protocol.TaskError {
		t.Errorf("final state = %s, want error", final.State)
	}
	if s := h.d.Stats(); s.TotalProcessed != 1 {
		t.Errorf("late finish double-counted: %+v", s)
	}
}

func TestDispatcher_StartRetries(t *testing.T) {
	h := newHarness(Config{StartRetries: 3}, 0)
	h.ctrl.startFails = 2

	task, err := h.d.ProcessOne(context.Background(), 0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if task.State != protocol.TaskCompleted {
		t.Errorf("state = %s, want completed", task.State)
	}
	if len(task.Errors) != 2 {
		t.Errorf("errors = %v, want the two failed launches", task.Errors)
	}
	if starts, _ := h.ctrl.counts(); starts != 3 {
		t.Errorf("starts = %d, want 3", starts)
	}
}

func TestDispatcher_StartGivesUp(t *testing.T) {
	h := newHarness(Config{StartRetries: 2}, 0)
	h.ctrl.startFails = 5

	task, err := h.d.ProcessOne(context.Background(), 0)
	if err == nil || task.State != protocol.TaskError {
		t.Fatalf("task = %+v err = %v, want error", task, err)
	}
	if calls, _ := h.run.stats(); calls != 0 {
		t.Error("runner must not run when the emulator never started")
	}
	if _, stops := h.ctrl.counts(); stops != 0 {
		t.Error("nothing to stop when launch failed")
	}
	if h.d.Stats().Failed != 1 {
		t.Errorf("stats = %+v", h.d.Stats())
	}
}

func TestDispatcher_AlreadyRunningEmulatorLeftRunning(t *testing.T) {
	h := newHarness(Config{}, 0)
	h.ctrl.running[0] = true

	if _, err := h.d.ProcessOne(context.Background(), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	starts, stops := h.ctrl.counts()
	if starts != 0 || stops != 0 {
		t.Errorf("starts = %d stops = %d, want neither", starts, stops)
	}
}

func TestDispatcher_BootTimeout(t *testing.T) {
	h := newHarness(Config{BootTimeout: 30 * time.Millisecond}, 0)
	h.ctrl.neverReady = true

	task, err := h.d.ProcessOne(context.Background(), 0)
	if err == nil || !strings.Contains(task.LastError(), "not ready") {
		t.Fatalf("task = %+v err = %v, want boot timeout", task, err)
	}
	if _, stops := h.ctrl.counts(); stops != 1 {
		t.Error("emulator we launched must be stopped again")
	}
}

func TestDispatcher_SchedulerErrorBacksOff(t *testing.T) {
	h := newHarness(Config{}, 0)
	h.sched.err = errors.New("database is locked")
	h.start(t)

	waitFor(t, func() bool { return h.store.hasEvent(protocol.EventSchedulerError) }, time.Second)
	waitFor(t, func() bool {
		_, _, passErrors := h.rec.snapshot()
		return passErrors >= 2
	}, time.Second)
	if h.d.Stats().TotalProcessed != 0 {
		t.Error("nothing should run while the scheduler fails")
	}
}

func TestDispatcher_ShutdownCancelsAfterGrace(t *testing.T) {
	h := newHarness(Config{ShutdownTimeout: 20 * time.Millisecond, StopTimeout: time.Second}, 0)
	h.run.run = func(ctx context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}
	stop := h.start(t)
	waitFor(t, func() bool { return h.d.ActiveCount() == 1 }, time.Second)

	begin := time.Now()
	stop()
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
	if h.d.ActiveCount() != 0 {
		t.Error("task still active after shutdown")
	}
	if s := h.d.Stats(); s.Failed != 1 {
		t.Errorf("stats = %+v, want the cancelled task counted as failed", s)
	}
}

func TestDispatcher_ShutdownWaitsForTasks(t *testing.T) {
	h := newHarness(Config{ShutdownTimeout: 2 * time.Second}, 0)
	finished := make(chan struct{})
	h.run.run = func(ctx context.Context, _ protocol.Emulator, _ worker.Reporter) (worker.Result, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			close(finished)
			return worker.Result{}, nil
		case <-ctx.Done():
			return worker.Result{}, ctx.Err()
		}
	}
	stop := h.start(t)
	waitFor(t, func() bool { return h.d.ActiveCount() == 1 }, time.Second)
	stop()

	select {
	case <-finished:
	default:
		t.Fatal("task was cancelled instead of finishing within the grace period")
	}
	if h.d.Stats().Succeeded != 1 {
		t.Errorf("stats = %+v", h.d.Stats())
	}
}

func TestDispatcher_Reload(t *testing.T) {
	h := newHarness(Config{}, 0)
	calls := 0
	h.d.reload = func(context.Context) error {
		calls++
		return nil
	}
	if err := h.d.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if calls != 1 || !h.store.hasEvent(protocol.EventConfigReload) {
		t.Errorf("calls = %d, config_reload logged = %v", calls, h.store.hasEvent(protocol.EventConfigReload))
	}
	select {
	case <-h.d.kick:
	default:
		t.Error("reload should request a scheduling pass")
	}

	h.d.reload = func(context.Context) error { return errors.New("bad yaml") }
	if err := h.d.Reload(context.Background()); err == nil {
		t.Error("expected reload error")
	}
}

func TestTask_WithErrorDoesNotAlias(t *testing.T) {
	base := Task{Errors: make([]string, 1, 8)}
	base.Errors[0] = "first"
	a := base.withError("a", 10)
	b := base.withError("b", 10)
	if a.Errors[1] != "a" || b.Errors[1] != "b" {
		t.Errorf("snapshots share storage: %v %v", a.Errors, b.Errors)
	}

	long := Task{}
	for i := range 5 {
		long = long.withError(string(rune('a'+i)), 3)
	}
	if len(long.Errors) != 3 || long.Errors[0] != "c" || long.LastError() != "e" {
		t.Errorf("rolling log = %v", long.Errors)
	}
}

func TestStats_RunningAverageAndReset(t *testing.T) {
	h := newHarness(Config{})
	now := time.Now()
	h.d.recordStats(OutcomeSuccess, 10*time.Second, now)
	h.d.recordStats(OutcomeError, 20*time.Second, now)
	h.d.recordStats(OutcomeTimeout, 30*time.Second, now)

	s := h.d.Stats()
	if s.TotalProcessed != 3 || s.Succeeded != 1 || s.Failed != 2 || s.TimedOut != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.AverageDuration != 20*time.Second {
		t.Errorf("average = %v, want 20s", s.AverageDuration)
	}

	h.d.ResetStats()
	if h.d.Stats() != (Stats{}) {
		t.Errorf("after reset = %+v", h.d.Stats())
	}
}

func TestStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "status.json")
	h := newHarness(Config{StatusPath: path, StatusInterval: 10 * time.Millisecond}, 0)
	stop := h.start(t)

	waitFor(t, func() bool {
		snap, err := ReadStatusFile(path)
		return err == nil && snap.Running && snap.Stats.TotalProcessed == 1
	}, 2*time.Second)

	stop()
	snap, err := ReadStatusFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Running {
		t.Error("final snapshot should report not running")
	}
	if snap.MaxConcurrent != 2 {
		t.Errorf("max concurrent = %d", snap.MaxConcurrent)
	}
}
