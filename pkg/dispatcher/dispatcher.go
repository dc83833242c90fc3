// Package dispatcher is the processing loop: it keeps a bounded set of
// emulator tasks running, asks the scheduler for the next eligible
// emulators whenever a slot is free, and reclaims slots when tasks finish or
// overrun their timeout.
//
// Each task walks starting_emulator → processing_game → stopping_emulator →
// completed, with error reachable from any step. At most one task exists per
// emulator id.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beastbot/pkg/protocol"
	"beastbot/pkg/scheduler"
	"beastbot/pkg/worker"
)

// --- Interfaces for testability ---

// Scheduler ranks eligible emulators and maintains next-check times.
type Scheduler interface {
	RankEligible(ctx context.Context, maxCount int) ([]scheduler.EmulatorPriority, error)
	Reschedule(ctx context.Context, emulatorID int) (time.Time, error)
}

// Store is the persistence the loop writes to around each task.
type Store interface {
	GetEmulator(ctx context.Context, id int) (protocol.Emulator, error)
	MarkProcessed(ctx context.Context, id int, at time.Time) error
	StartSession(ctx context.Context, emulatorID int, at time.Time) (string, error)
	FinishSession(ctx context.Context, sess protocol.Session) error
	LogEvent(ctx context.Context, eventType, source string, emulatorID int, payload string) error
}

// EmulatorController starts and stops emulator instances.
type EmulatorController interface {
	Start(ctx context.Context, index int) error
	Stop(ctx context.Context, index int) error
	IsRunning(ctx context.Context, index int) (bool, error)
	IsDeviceReady(ctx context.Context, index int) (bool, error)
}

// GameRunner performs the in-game pass once the device is up.
type GameRunner interface {
	Run(ctx context.Context, emu protocol.Emulator, rep worker.Reporter) (worker.Result, error)
}

// Recorder receives task metrics. See pkg/metrics.
type Recorder interface {
	TaskStarted()
	TaskFinished(outcome string, d time.Duration)
	SetActive(n int)
	SchedulerPass(err error)
}

type nopRecorder struct{}

func (nopRecorder) TaskStarted()                       {}
func (nopRecorder) TaskFinished(string, time.Duration) {}
func (nopRecorder) SetActive(int)                      {}
func (nopRecorder) SchedulerPass(error)                {}

// Task outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// ErrAlreadyActive is returned by ProcessOne when the emulator has a task.
var ErrAlreadyActive = errors.New("emulator already has an active task")

// ErrNoCapacity is returned by ProcessOne when every slot is busy.
var ErrNoCapacity = errors.New("no free processing slot")

// --- Config ---

// Config holds Dispatcher configuration.
type Config struct {
	MaxConcurrent   int           // Concurrent emulator tasks (default 2).
	PollInterval    time.Duration // Scheduler poll interval (default 10s).
	TaskTimeout     time.Duration // Wall-clock limit per task (default 30m).
	StopTimeout     time.Duration // Limit on stopping an emulator (default 1m).
	ShutdownTimeout time.Duration // Grace period for in-flight tasks (default 30s).
	ErrorBackoff    time.Duration // Sleep after a failed scheduler pass (default 60s).
	ReapInterval    time.Duration // How often overrun tasks are reclaimed (default 30s).
	BootTimeout     time.Duration // Wait for Android to finish booting (default 3m).
	BootPoll        time.Duration // Device readiness poll interval (default 5s).
	StartRetries    int           // Attempts to launch an emulator (default 3).
	RetryBackoff    time.Duration // Sleep between launch attempts (default 10s).
	MaxTaskErrors   int           // Rolling error log length per task (default 10).
	StatusPath      string        // Status snapshot file; empty disables it.
	StatusInterval  time.Duration // Snapshot write interval (default 5s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 2
	}
	if out.PollInterval == 0 {
		out.PollInterval = 10 * time.Second
	}
	if out.TaskTimeout == 0 {
		out.TaskTimeout = 30 * time.Minute
	}
	if out.StopTimeout == 0 {
		out.StopTimeout = time.Minute
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 30 * time.Second
	}
	if out.ErrorBackoff == 0 {
		out.ErrorBackoff = 60 * time.Second
	}
	if out.ReapInterval == 0 {
		out.ReapInterval = 30 * time.Second
	}
	if out.BootTimeout == 0 {
		out.BootTimeout = 3 * time.Minute
	}
	if out.BootPoll == 0 {
		out.BootPoll = 5 * time.Second
	}
	if out.StartRetries <= 0 {
		out.StartRetries = 3
	}
	if out.RetryBackoff == 0 {
		out.RetryBackoff = 10 * time.Second
	}
	if out.MaxTaskErrors <= 0 {
		out.MaxTaskErrors = 10
	}
	if out.StatusInterval == 0 {
		out.StatusInterval = 5 * time.Second
	}
	return out
}

// --- Dispatcher ---

// Deps bundles the collaborators. Recorder, Logger and ReloadFunc are optional.
type Deps struct {
	Scheduler  Scheduler
	Store      Store
	Controller EmulatorController
	Runner     GameRunner
	Recorder   Recorder
	Logger     *slog.Logger
	// ReloadFunc re-reads configuration; called by Reload.
	ReloadFunc func(ctx context.Context) error
}

// Dispatcher owns the active-task map.
type Dispatcher struct {
	cfg    Config
	sched  Scheduler
	store  Store
	ctrl   EmulatorController
	runner GameRunner
	rec    Recorder
	logger *slog.Logger
	reload func(ctx context.Context) error

	mu    sync.Mutex
	tasks map[int]*trackedTask

	statsMu sync.Mutex
	stats   Stats

	wg   sync.WaitGroup
	kick chan struct{}

	// taskCtx parents every task; cancelled only when the shutdown grace
	// period runs out.
	taskCtx    context.Context
	taskCancel context.CancelFunc

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Dispatcher. It does not start polling; call Run.
func New(cfg Config, deps Deps) *Dispatcher {
	resolved := cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	taskCtx, taskCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:        resolved,
		sched:      deps.Scheduler,
		store:      deps.Store,
		ctrl:       deps.Controller,
		runner:     deps.Runner,
		rec:        rec,
		logger:     logger,
		reload:     deps.ReloadFunc,
		tasks:      make(map[int]*trackedTask),
		kick:       make(chan struct{}, 1),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
		nowFunc:    time.Now,
	}
}

// Config returns the resolved configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Run polls the scheduler and dispatches tasks until ctx is cancelled, then
// waits up to ShutdownTimeout for in-flight tasks before cancelling them.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "max_concurrent", d.cfg.MaxConcurrent, "poll", d.cfg.PollInterval)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); d.reapLoop(ctx) }()
	go func() { defer loops.Done(); d.statusLoop(ctx) }()

	d.pollLoop(ctx)
	loops.Wait()

	d.shutdown()
	d.writeStatus(false)
	d.logger.Info("dispatcher stopped")
	return nil
}

// Kick requests an immediate scheduling pass.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Reload re-reads configuration through the injected ReloadFunc and
// triggers a scheduling pass.
func (d *Dispatcher) Reload(ctx context.Context) error {
	if d.reload != nil {
		if err := d.reload(ctx); err != nil {
			d.logger.Error("config reload failed", "error", err)
			return fmt.Errorf("reload: %w", err)
		}
	}
	d.logEvent(ctx, protocol.EventConfigReload, -1, nil)
	d.logger.Info("configuration reloaded")
	d.Kick()
	return nil
}

// pollLoop runs a pass at start, on every tick and on Kick. A failed pass
// backs off for ErrorBackoff.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.fillSlots(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("scheduling pass failed", "error", err, "backoff", d.cfg.ErrorBackoff)
			d.logEvent(ctx, protocol.EventSchedulerError, -1, map[string]string{"error": err.Error()})
			if !sleepCtx(ctx, d.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
	}
}

// fillSlots asks the scheduler for enough candidates to fill every free slot
// and starts a task for each, in ranked order.
func (d *Dispatcher) fillSlots(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduling pass panicked: %v", r)
		}
		d.rec.SchedulerPass(err)
	}()

	active := d.ActiveCount()
	free := d.cfg.MaxConcurrent - active
	if free <= 0 {
		return nil
	}
	// Ask for extra so emulators that are already active can be skipped.
	ranked, err := d.sched.RankEligible(ctx, free+active)
	if err != nil {
		return err
	}
	for _, p := range ranked {
		if free == 0 {
			break
		}
		tt, err := d.claim(ctx, p.EmulatorID, p.Total)
		if err != nil {
			if !errors.Is(err, ErrAlreadyActive) {
				d.logger.Warn("cannot claim slot", "emulator", p.EmulatorID, "error", err)
			}
			continue
		}
		free--
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runTask(tt)
		}()
	}
	return nil
}

// ProcessOne runs a forced pass for one emulator on the calling goroutine,
// bypassing the scheduler's eligibility gate. It still takes a slot.
func (d *Dispatcher) ProcessOne(ctx context.Context, emulatorID int) (Task, error) {
	if _, err := d.store.GetEmulator(ctx, emulatorID); err != nil {
		return Task{}, err
	}
	tt, err := d.claim(ctx, emulatorID, 0)
	if err != nil {
		return Task{}, err
	}
	d.logEvent(ctx, protocol.EventForcedProcessed, emulatorID, nil)

	d.wg.Add(1)
	defer d.wg.Done()
	// Cancelling ctx aborts the forced pass.
	stop := context.AfterFunc(ctx, tt.cancel)
	defer stop()
	final := d.runTask(tt)
	if final.State == protocol.TaskError {
		return final, fmt.Errorf("emulator %d: %s", emulatorID, final.LastError())
	}
	return final, nil
}

// shutdown waits for tasks up to ShutdownTimeout, then cancels them and
// waits one more StopTimeout for them to unwind.
func (d *Dispatcher) shutdown() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	n := d.ActiveCount()
	if n > 0 {
		d.logger.Info("waiting for active tasks", "count", n, "grace", d.cfg.ShutdownTimeout)
	}
	select {
	case <-done:
		d.taskCancel()
		return
	case <-time.After(d.cfg.ShutdownTimeout):
	}

	d.logger.Warn("grace period expired, cancelling tasks", "count", d.ActiveCount())
	d.taskCancel()
	select {
	case <-done:
	case <-time.After(d.cfg.StopTimeout):
		d.logger.Error("tasks did not stop after cancellation", "count", d.ActiveCount())
	}
}

// logEvent persists an audit event. emulatorID < 0 means none.
func (d *Dispatcher) logEvent(ctx context.Context, evType string, emulatorID int, payload any) {
	var body string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			d.logger.Warn("marshal event payload", "type", evType, "error", err)
		} else {
			body = string(data)
		}
	}
	if err := d.store.LogEvent(context.WithoutCancel(ctx), evType, "dispatcher", emulatorID, body); err != nil {
		d.logger.Warn("log event", "type", evType, "emulator", emulatorID, "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is done; false means ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
