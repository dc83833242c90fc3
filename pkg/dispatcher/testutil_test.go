package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
	"beastbot/pkg/scheduler"
	"beastbot/pkg/worker"
)

// waitFor polls condition every tick until it returns true or timeout expires.
// This replaces time.Sleep in tests to provide proper synchronization.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- mockScheduler ---

// mockScheduler ranks a fixed list, dropping emulators once rescheduled.
type mockScheduler struct {
	mu          sync.Mutex
	ranked      []scheduler.EmulatorPriority
	err         error
	rescheduled map[int]int
	calls       int
}

func newMockScheduler(ids ...int) *mockScheduler {
	m := &mockScheduler{rescheduled: make(map[int]int)}
	for i, id := range ids {
		m.ranked = append(m.ranked, scheduler.EmulatorPriority{EmulatorID: id, Total: float64(100 - i)})
	}
	return m
}

func (m *mockScheduler) RankEligible(_ context.Context, maxCount int) ([]scheduler.EmulatorPriority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []scheduler.EmulatorPriority
	for _, p := range m.ranked {
		if _, done := m.rescheduled[p.EmulatorID]; done {
			continue
		}
		if len(out) == maxCount {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockScheduler) Reschedule(_ context.Context, id int) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rescheduled[id]++
	return time.Now().Add(time.Hour), nil
}

func (m *mockScheduler) rescheduleCount(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rescheduled[id]
}

// --- mockStore ---

type mockStore struct {
	mu        sync.Mutex
	emulators map[int]protocol.Emulator
	processed map[int]time.Time
	sessions  map[string]protocol.Session
	events    []string
	nextID    int
}

func newMockStore(ids ...int) *mockStore {
	m := &mockStore{
		emulators: make(map[int]protocol.Emulator),
		processed: make(map[int]time.Time),
		sessions:  make(map[string]protocol.Session),
	}
	for _, id := range ids {
		m.emulators[id] = protocol.Emulator{ID: id, Name: "emu", Enabled: true, LordLevel: 12}
	}
	return m
}

func (m *mockStore) GetEmulator(_ context.Context, id int) (protocol.Emulator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emulators[id]
	if !ok {
		return protocol.Emulator{}, &protocol.EmulatorNotFoundError{ID: id}
	}
	return e, nil
}

func (m *mockStore) MarkProcessed(_ context.Context, id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = at
	return nil
}

func (m *mockStore) StartSession(_ context.Context, id int, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sid := fmt.Sprintf("sess-%d", m.nextID)
	m.sessions[sid] = protocol.Session{ID: sid, EmulatorID: id, StartedAt: at}
	return sid, nil
}

func (m *mockStore) FinishSession(_ context.Context, sess protocol.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *mockStore) LogEvent(_ context.Context, eventType, _ string, _ int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *mockStore) hasEvent(t string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == t {
			return true
		}
	}
	return false
}

func (m *mockStore) countEvents(t string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == t {
			n++
		}
	}
	return n
}

func (m *mockStore) finishedSessions() []protocol.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Session
	for _, s := range m.sessions {
		if !s.EndedAt.IsZero() {
			out = append(out, s)
		}
	}
	return out
}

// --- mockController ---

type mockController struct {
	mu         sync.Mutex
	running    map[int]bool
	startFails int // Start fails this many times before succeeding
	neverReady bool
	starts     []int
	stops      []int
}

func newMockController() *mockController {
	return &mockController{running: make(map[int]bool)}
}

func (m *mockController) Start(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, id)
	if m.startFails > 0 {
		m.startFails--
		return errors.New("ldconsole: launch failed")
	}
	m.running[id] = true
	return nil
}

func (m *mockController) Stop(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, id)
	m.running[id] = false
	return nil
}

func (m *mockController) IsRunning(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id], nil
}

func (m *mockController) IsDeviceReady(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.neverReady && m.running[id], nil
}

func (m *mockController) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts), len(m.stops)
}

// --- mockRunner ---

// mockRunner reports one building per call unless run is overridden.
type mockRunner struct {
	mu      sync.Mutex
	calls   int
	run     func(ctx context.Context, emu protocol.Emulator, rep worker.Reporter) (worker.Result, error)
	current int
	peak    int
}

func (m *mockRunner) Run(ctx context.Context, emu protocol.Emulator, rep worker.Reporter) (worker.Result, error) {
	m.mu.Lock()
	m.calls++
	m.current++
	m.peak = max(m.peak, m.current)
	run := m.run
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.current--
		m.mu.Unlock()
	}()

	if run != nil {
		return run(ctx, emu, rep)
	}
	rep.ActionStarted(planner.Action{Kind: protocol.ActionBuilding, Name: "Den"})
	return worker.Result{Actions: 1, BuildingsStarted: 1}, nil
}

func (m *mockRunner) stats() (calls, peak int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.peak
}

// --- mockRecorder ---

type mockRecorder struct {
	mu         sync.Mutex
	started    int
	outcomes   map[string]int
	passErrors int
}

func (m *mockRecorder) TaskStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *mockRecorder) TaskFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *mockRecorder) SetActive(int) {}

func (m *mockRecorder) snapshot() (started int, outcomes map[string]int, passErrors int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcomes = make(map[string]int, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	return m.started, outcomes, m.passErrors
}

func (m *mockRecorder) SchedulerPass(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.passErrors++
	}
}

// --- harness ---

type harness struct {
	d     *Dispatcher
	sched *mockScheduler
	store *mockStore
	ctrl  *mockController
	run   *mockRunner
	rec   *mockRecorder
}

func newHarness(cfg Config, ids ...int) *harness {
	h := &harness{
		sched: newMockScheduler(ids...),
		store: newMockStore(ids...),
		ctrl:  newMockController(),
		run:   &mockRunner{},
		rec:   &mockRecorder{},
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.BootPoll == 0 {
		cfg.BootPoll = time.Millisecond
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 10 * time.Millisecond
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = time.Second
	}
	h.d = New(cfg, Deps{
		Scheduler:  h.sched,
		Store:      h.store,
		Controller: h.ctrl,
		Runner:     h.run,
		Recorder:   h.rec,
		Logger:     discard,
	})
	return h
}

// start runs the dispatcher until the test ends.
func (h *harness) start(t *testing.T) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancelCtx()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Run returned %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Error("Run did not return after cancel")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}
