package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"beastbot/pkg/bonus"
	"beastbot/pkg/config"
	"beastbot/pkg/dispatcher"
	"beastbot/pkg/emulator"
	"beastbot/pkg/logging"
	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
	"beastbot/pkg/scheduler"
	"beastbot/pkg/store"
	"beastbot/pkg/worker"
)

// newController builds the emulator controller from settings.
var newController = func(s config.EmulatorSettings) emulator.Controller { //nolint:gochecknoglobals // swapped in tests
	return emulator.NewLDConsole(s.ConsolePath, s.ADBPath, nil)
}

// screenDevice is the slice of emulator.Device the CLI needs.
type screenDevice interface {
	IsScreenOn(ctx context.Context) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// newDevice opens an adb handle to one instance.
var newDevice = func(index int, s config.EmulatorSettings) screenDevice { //nolint:gochecknoglobals // swapped in tests
	return emulator.NewDevice(index, s.ADBPath, nil)
}

// app bundles the state every command works against. The engine fields are
// filled by loadEngine, which needs game.yaml.
type app struct {
	paths    *Paths
	logger   *slog.Logger
	closeLog io.Closer
	db       *sql.DB
	store    *store.Store
	settings config.Settings
	ctrl     emulator.Controller

	reloadMu sync.Mutex
	cfg      *config.Config
	bonuses  *bonus.Source
	planner  *planner.Planner
	sched    *scheduler.Scheduler
}

// openApp resolves paths, configures logging, opens the database and reads
// settings.toml. logFile may be empty.
func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer, logFile string) (*app, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if err := paths.ensureHome(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.Init(stderr, level, logFile)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(filepath.Join(paths.ConfigDir, config.SettingsFile))
	if err != nil {
		_ = closeLog.Close()
		return nil, err
	}

	db, err := openDB(ctx, paths.DBPath)
	if err != nil {
		_ = closeLog.Close()
		return nil, err
	}
	st := store.NewStore(db, logger)
	if err := st.Init(ctx); err != nil {
		_ = db.Close()
		_ = closeLog.Close()
		return nil, err
	}

	return &app{
		paths:    paths,
		logger:   logger,
		closeLog: closeLog,
		db:       db,
		store:    st,
		settings: settings,
		ctrl:     newController(settings.Emulator),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	_ = a.closeLog.Close()
}

// loadEngine reads the full configuration and builds the planner and
// scheduler on top of it.
func (a *app) loadEngine() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.paths.ConfigDir, a.logger)
	if err != nil {
		return fmt.Errorf("%w (run 'beastbot init' to create default config files)", err)
	}
	a.cfg = cfg
	a.settings = cfg.Settings
	a.bonuses = bonus.NewSource(cfg.Bonus.Schedule())
	a.planner = planner.New(a.store, a.bonuses, cfg.Game.PlannerWeights(), a.logger)
	a.sched = scheduler.New(cfg.Settings.SchedulerConfig(), a.store, a.planner, a.bonuses, a.logger)
	return nil
}

// syncSummary reports what syncConfig wrote.
type syncSummary struct {
	Requirements int `json:"requirements"`
	BonusWindows int `json:"bonus_windows"`
	Emulators    int `json:"emulators"`
}

// syncConfig writes reference data from the loaded config into the store,
// seeds progress rows for every emulator and swaps in the bonus schedule.
func (a *app) syncConfig(ctx context.Context) (syncSummary, error) {
	var sum syncSummary
	if err := a.loadEngine(); err != nil {
		return sum, err
	}
	game := a.cfg.Game

	reqs := game.Requirements()
	if err := a.store.ReplaceRequirements(ctx, reqs); err != nil {
		return sum, err
	}
	windows := bonus.ToRows(a.cfg.Bonus.Windows)
	if err := a.store.ReplaceBonusWindows(ctx, windows); err != nil {
		return sum, err
	}
	emus, err := a.store.ListEmulators(ctx, false)
	if err != nil {
		return sum, err
	}
	for _, e := range emus {
		if err := a.seed(ctx, e.ID); err != nil {
			return sum, err
		}
	}
	a.bonuses.Replace(a.cfg.Bonus.Schedule())

	sum = syncSummary{Requirements: len(reqs), BonusWindows: len(windows), Emulators: len(emus)}
	a.logEvent(ctx, protocol.EventConfigSynced, -1, sum)
	return sum, nil
}

// seed creates any missing progress rows for one emulator.
func (a *app) seed(ctx context.Context, id int) error {
	if err := a.store.EnsureBuildings(ctx, id, a.cfg.Game.BuildingDefaults()); err != nil {
		return err
	}
	return a.store.EnsureResearch(ctx, id, a.cfg.Game.ResearchDefaults())
}

// reload re-reads the config directory and syncs it. The planner keeps the
// weights it was built with.
func (a *app) reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	cfg, err := config.Load(a.paths.ConfigDir, a.logger)
	if err != nil {
		return err
	}
	a.cfg = cfg
	_, err = a.syncConfig(ctx)
	return err
}

// newRunner builds the game runner from [worker] settings.
func (a *app) newRunner() *worker.Runner {
	exec := &worker.LogExecutor{Logger: a.logger, PerLevel: time.Duration(a.settings.Worker.PerLevel)}
	return worker.NewRunner(a.store, a.planner, exec, a.logger, a.settings.Worker.MaxActions)
}

// newDispatcher wires the processing loop. statusPath may be empty.
func (a *app) newDispatcher(cfg dispatcher.Config, rec dispatcher.Recorder) *dispatcher.Dispatcher {
	return dispatcher.New(cfg, dispatcher.Deps{
		Scheduler:  a.sched,
		Store:      a.store,
		Controller: a.ctrl,
		Runner:     a.newRunner(),
		Recorder:   rec,
		Logger:     a.logger,
		ReloadFunc: a.reload,
	})
}

func (a *app) logEvent(ctx context.Context, evType string, emulatorID int, payload any) {
	body := ""
	if payload != nil {
		body = mustJSON(payload)
	}
	if err := a.store.LogEvent(ctx, evType, "cli", emulatorID, body); err != nil {
		a.logger.Warn("log event", "type", evType, "error", err)
	}
}

// parseID parses an emulator index argument.
func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid emulator id %q", s)
	}
	return id, nil
}
