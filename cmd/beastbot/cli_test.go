package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"beastbot/pkg/config"
	"beastbot/pkg/emulator"
	"beastbot/pkg/planner"
)

// fakeController is an in-memory emulator.Controller.
type fakeController struct {
	mu        sync.Mutex
	instances []emulator.Instance
	running   map[int]bool
	starts    []int
	stops     []int
}

func newFakeController(names ...string) *fakeController {
	f := &fakeController{running: make(map[int]bool)}
	for i, n := range names {
		f.instances = append(f.instances, emulator.Instance{Index: i, Name: n})
	}
	return f
}

func (f *fakeController) List(context.Context) ([]emulator.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emulator.Instance, len(f.instances))
	for i, inst := range f.instances {
		inst.Running = f.running[inst.Index]
		out[i] = inst
	}
	return out, nil
}

func (f *fakeController) Start(_ context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, index)
	f.running[index] = true
	return nil
}

func (f *fakeController) Stop(_ context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, index)
	f.running[index] = false
	return nil
}

func (f *fakeController) IsRunning(_ context.Context, index int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[index], nil
}

func (f *fakeController) IsDeviceReady(_ context.Context, index int) (bool, error) {
	return f.IsRunning(context.Background(), index)
}

// setupCLI points every path at a temp dir and swaps in ctrl.
func setupCLI(t *testing.T, ctrl emulator.Controller) string {
	t.Helper()
	clearPathEnv(t)
	home := t.TempDir()
	t.Setenv("BEASTBOT_HOME", home)

	prevCtrl := newController
	newController = func(config.EmulatorSettings) emulator.Controller { return ctrl }
	prevLogger := slog.Default()
	t.Cleanup(func() {
		newController = prevCtrl
		slog.SetDefault(prevLogger)
		log.SetOutput(os.Stderr)
	})
	return home
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	if errOut.Len() > 0 {
		t.Logf("stderr (%v): %s", args, errOut.String())
	}
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("beastbot %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCLI_Version(t *testing.T) {
	setupCLI(t, newFakeController())
	out := mustRun(t, "version")
	if !strings.HasPrefix(out, "beastbot ") {
		t.Errorf("version output = %q", out)
	}
}

func TestCLI_InitWritesDefaultsOnce(t *testing.T) {
	home := setupCLI(t, newFakeController())

	out := mustRun(t, "init")
	for _, name := range []string{config.SettingsFile, config.GameFile, config.BonusFile} {
		if _, err := os.Stat(filepath.Join(home, "config", name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !strings.Contains(out, "wrote") {
		t.Errorf("init output = %q, want wrote lines", out)
	}

	out = mustRun(t, "init")
	if !strings.Contains(out, "already present") {
		t.Errorf("second init output = %q, want 'already present'", out)
	}
}

func TestCLI_ScanWithoutConfigStillRegisters(t *testing.T) {
	setupCLI(t, newFakeController("farm-a"))

	out := mustRun(t, "scan")
	if !strings.Contains(out, "farm-a") {
		t.Errorf("scan output missing instance: %q", out)
	}
	out = mustRun(t, "list")
	if !strings.Contains(out, "farm-a") {
		t.Errorf("list output missing instance: %q", out)
	}

	// Planning needs game.yaml.
	if _, err := runCLI(t, "next", "0"); err == nil || !strings.Contains(err.Error(), "beastbot init") {
		t.Errorf("next without config: err = %v, want hint to run init", err)
	}
}

func TestCLI_EndToEnd(t *testing.T) {
	ctrl := newFakeController("farm-a", "farm-b")
	setupCLI(t, ctrl)

	mustRun(t, "init")
	out := mustRun(t, "scan")
	if !strings.Contains(out, "2 instances, 2 new") {
		t.Errorf("scan output = %q", out)
	}
	out = mustRun(t, "scan")
	if !strings.Contains(out, "2 instances, 0 new") {
		t.Errorf("rescan output = %q", out)
	}

	var sum syncSummary
	out = mustRun(t, "sync", "--json")
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode sync output %q: %v", out, err)
	}
	if sum.Emulators != 2 || sum.Requirements == 0 || sum.BonusWindows == 0 {
		t.Errorf("sync summary = %+v", sum)
	}

	t.Run("next shows a planned action", func(t *testing.T) {
		out := mustRun(t, "next", "0")
		if !strings.Contains(out, "next action:") || !strings.Contains(out, "BUILDING") {
			t.Errorf("next output = %q", out)
		}
	})

	t.Run("queue lists both emulators", func(t *testing.T) {
		var entries []queueEntry
		out := mustRun(t, "queue", "--json")
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("decode queue: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("queue entries = %d, want 2", len(entries))
		}
		for _, e := range entries {
			if !e.Eligible || e.Priority.Total <= 0 {
				t.Errorf("entry %+v: want eligible with positive score", e)
			}
		}
	})

	t.Run("disable hides emulator from queue", func(t *testing.T) {
		mustRun(t, "disable", "1")
		var entries []queueEntry
		out := mustRun(t, "queue", "--json")
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("decode queue: %v", err)
		}
		if len(entries) != 1 || entries[0].Priority.EmulatorID != 0 {
			t.Errorf("queue after disable = %+v", entries)
		}
		mustRun(t, "enable", "1")
	})

	t.Run("process runs one pass", func(t *testing.T) {
		out := mustRun(t, "process", "0")
		if !strings.Contains(out, "emulator 0: completed") {
			t.Errorf("process output = %q", out)
		}
		ctrl.mu.Lock()
		starts, stops := len(ctrl.starts), len(ctrl.stops)
		ctrl.mu.Unlock()
		if starts != 1 || stops != 1 {
			t.Errorf("starts=%d stops=%d, want 1 each", starts, stops)
		}

		out = mustRun(t, "sessions", "--id", "0")
		if !strings.Contains(out, "ok") {
			t.Errorf("sessions output = %q", out)
		}
		out = mustRun(t, "logs", "--type", "task_completed")
		if !strings.Contains(out, "task_completed") {
			t.Errorf("logs output = %q", out)
		}
	})

	t.Run("processed emulator waits for its next check", func(t *testing.T) {
		var entries []queueEntry
		out := mustRun(t, "queue", "--json")
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("decode queue: %v", err)
		}
		for _, e := range entries {
			if e.Priority.EmulatorID == 0 && e.Eligible {
				t.Errorf("emulator 0 still eligible right after processing: %+v", e)
			}
		}

		mustRun(t, "reset", "--id", "0")
		entries = nil
		out = mustRun(t, "queue", "--json")
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("decode queue: %v", err)
		}
		for _, e := range entries {
			if e.Priority.EmulatorID == 0 && strings.HasPrefix(e.Reason, "next check") {
				t.Errorf("emulator 0 still gated after reset: %+v", e)
			}
		}
	})

	t.Run("note and speedup", func(t *testing.T) {
		mustRun(t, "note", "1", "main", "account")
		out := mustRun(t, "list")
		if !strings.Contains(out, "main account") {
			t.Errorf("list output missing note: %q", out)
		}
		mustRun(t, "speedup", "building", "1", "Den", "--on")
		if _, err := runCLI(t, "speedup", "building", "1", "No Such Building", "--on"); err == nil {
			t.Error("speedup on unknown building: want error")
		}
		if _, err := runCLI(t, "speedup", "building", "1", "Den"); err == nil {
			t.Error("speedup without --on/--off: want error")
		}
	})

	t.Run("unknown emulator", func(t *testing.T) {
		if _, err := runCLI(t, "enable", "42"); err == nil {
			t.Error("enable 42: want not-found error")
		}
		if _, err := runCLI(t, "process", "42"); err == nil {
			t.Error("process 42: want not-found error")
		}
	})
}

func TestCLI_Bonus(t *testing.T) {
	setupCLI(t, newFakeController())

	out := mustRun(t, "bonus")
	if !strings.Contains(out, "next window:") || !strings.Contains(out, "building_power") {
		t.Errorf("bonus output = %q", out)
	}
	out = mustRun(t, "bonus", "--category", "research_power")
	if !strings.Contains(out, "research_power") {
		t.Errorf("filtered bonus output = %q", out)
	}
	if _, err := runCLI(t, "bonus", "--category", "fishing"); err == nil {
		t.Error("unknown category: want error")
	}
}

func TestCLI_StatusAndStopWhenStopped(t *testing.T) {
	setupCLI(t, newFakeController())

	out := mustRun(t, "status")
	if !strings.Contains(out, "stopped") || !strings.Contains(out, "no status snapshot") {
		t.Errorf("status output = %q", out)
	}
	out = mustRun(t, "stop")
	if !strings.Contains(out, "not running") {
		t.Errorf("stop output = %q", out)
	}
	if _, err := runCLI(t, "reset", "--stats"); err == nil {
		t.Error("reset --stats without scheduler: want error")
	}
}

func TestCLI_ProcessRefusesWhileSchedulerRuns(t *testing.T) {
	home := setupCLI(t, newFakeController("farm-a"))
	if err := WritePIDFile(filepath.Join(home, "beastbot.pid"), os.Getpid()); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "process", "0")
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("process with live scheduler: err = %v, want --force hint", err)
	}
}

// fakeSpawner writes the PID file the way a real child would.
type fakeSpawner struct {
	pidPath string
	args    []string
	noPID   bool
}

func (f *fakeSpawner) SpawnDaemon(args []string) (int, error) {
	f.args = args
	if !f.noPID {
		if err := WritePIDFile(f.pidPath, os.Getpid()); err != nil {
			return 0, err
		}
	}
	return os.Getpid(), nil
}

func TestRunBackground(t *testing.T) {
	dir := t.TempDir()
	paths := &Paths{Home: dir, PIDPath: filepath.Join(dir, "beastbot.pid"), LogPath: filepath.Join(dir, "beastbot.log")}

	t.Run("passes flags and waits for PID file", func(t *testing.T) {
		sp := &fakeSpawner{pidPath: paths.PIDPath}
		var buf bytes.Buffer
		err := runBackground(&buf, &rootOptions{logLevel: "debug"}, paths,
			startConfig{maxConcurrent: 3, metricsAddr: ":9102"}, sp, time.Second)
		if err != nil {
			t.Fatalf("runBackground: %v", err)
		}
		got := strings.Join(sp.args, " ")
		want := "start --foreground --log-level debug --max-concurrent 3 --metrics-addr :9102"
		if got != want {
			t.Errorf("args = %q, want %q", got, want)
		}
		if !strings.Contains(buf.String(), "scheduler started") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("refuses when already running", func(t *testing.T) {
		// PID file from the previous subtest names this live process, which
		// checkNotRunning treats as self; use another live pid instead.
		if err := WritePIDFile(paths.PIDPath, os.Getppid()); err != nil {
			t.Fatal(err)
		}
		err := runBackground(&bytes.Buffer{}, &rootOptions{}, paths, startConfig{}, &fakeSpawner{pidPath: paths.PIDPath}, time.Second)
		if err == nil || !strings.Contains(err.Error(), "already running") {
			t.Errorf("err = %v, want already running", err)
		}
	})

	t.Run("times out without PID file", func(t *testing.T) {
		_ = RemovePIDFile(paths.PIDPath)
		err := runBackground(&bytes.Buffer{}, &rootOptions{}, paths, startConfig{}, &fakeSpawner{noPID: true}, 100*time.Millisecond)
		if err == nil || !strings.Contains(err.Error(), "did not start") {
			t.Errorf("err = %v, want timeout", err)
		}
	})
}

func TestCLI_BonusStored(t *testing.T) {
	setupCLI(t, newFakeController())
	mustRun(t, "init")

	if _, err := runCLI(t, "bonus", "--stored"); err == nil || !strings.Contains(err.Error(), "beastbot sync") {
		t.Fatalf("bonus --stored before sync: err = %v, want hint to sync", err)
	}

	mustRun(t, "sync")
	out := mustRun(t, "bonus", "--stored")
	if !strings.Contains(out, "source: database") || !strings.Contains(out, "building_power") {
		t.Errorf("bonus --stored output = %q", out)
	}
}

func TestCLI_Level(t *testing.T) {
	setupCLI(t, newFakeController("farm-a"))
	mustRun(t, "init")
	mustRun(t, "scan")

	mustRun(t, "level", "0", "lord", "14")
	mustRun(t, "level", "0", "building", "Beast", "Nest", "12")

	var plan planner.Plan
	out := mustRun(t, "next", "0", "--json")
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.LordLevel != 14 {
		t.Errorf("lord level = %d, want 14", plan.LordLevel)
	}
	found := false
	for _, b := range plan.Buildings {
		if b.Name == "Beast Nest" {
			found = true
			if b.CurrentLevel != 12 {
				t.Errorf("Beast Nest level = %d, want 12", b.CurrentLevel)
			}
		}
	}
	if !found {
		t.Error("Beast Nest missing from plan")
	}

	for _, args := range [][]string{
		{"level", "0", "building", "No Such Building", "3"},
		{"level", "0", "lord", "0"},
		{"level", "0", "lord", "Den", "3"},
		{"level", "0", "castle", "Den", "3"},
		{"level", "0", "building", "Den", "high"},
		{"level", "42", "lord", "5"},
	} {
		if _, err := runCLI(t, args...); err == nil {
			t.Errorf("beastbot %s: want error", strings.Join(args, " "))
		}
	}
}

// fakeDevice returns a canned PNG.
type fakeDevice struct {
	screenOn bool
}

func (f *fakeDevice) IsScreenOn(context.Context) (bool, error) { return f.screenOn, nil }

func (f *fakeDevice) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\nfake"), nil
}

func TestCLI_Screenshot(t *testing.T) {
	ctrl := newFakeController("farm-a")
	home := setupCLI(t, ctrl)
	prev := newDevice
	newDevice = func(int, config.EmulatorSettings) screenDevice { return &fakeDevice{screenOn: true} }
	t.Cleanup(func() { newDevice = prev })

	if _, err := runCLI(t, "screenshot", "0"); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("screenshot of stopped instance: err = %v", err)
	}

	if err := ctrl.Start(context.Background(), 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	target := filepath.Join(t.TempDir(), "shot.png")
	out := mustRun(t, "screenshot", "0", "-o", target)
	if !strings.Contains(out, "saved "+target) {
		t.Errorf("screenshot output = %q", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read screenshot: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("screenshot content = %q", data)
	}

	out = mustRun(t, "screenshot", "0")
	entries, err := os.ReadDir(filepath.Join(home, "screenshots"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("default screenshot dir: entries=%v err=%v output=%q", entries, err, out)
	}
}
