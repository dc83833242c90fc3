package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"beastbot/pkg/dispatcher"
	"beastbot/pkg/protocol"
	"beastbot/pkg/scheduler"

	"github.com/pelletier/go-toml/v2"
)

// SettingsFile is the runtime tuning file inside the config directory.
const SettingsFile = protocol.SettingsFile

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Settings mirrors settings.toml. Zero values fall back to each
// component's built-in default.
type Settings struct {
	Dispatcher DispatcherSettings `toml:"dispatcher"`
	Scheduler  SchedulerSettings  `toml:"scheduler"`
	Emulator   EmulatorSettings   `toml:"emulator"`
	Worker     WorkerSettings     `toml:"worker"`
}

// DispatcherSettings is the [dispatcher] section.
type DispatcherSettings struct {
	MaxConcurrent   int      `toml:"max_concurrent"`
	PollInterval    Duration `toml:"poll_interval"`
	TaskTimeout     Duration `toml:"task_timeout"`
	StopTimeout     Duration `toml:"stop_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	ErrorBackoff    Duration `toml:"error_backoff"`
	BootTimeout     Duration `toml:"boot_timeout"`
	StartRetries    int      `toml:"start_retries"`
}

// SchedulerSettings is the [scheduler] section.
type SchedulerSettings struct {
	MaxBonusWait     Duration         `toml:"max_bonus_wait"`
	CompletionBuffer Duration         `toml:"completion_buffer"`
	DisableBonusWait bool             `toml:"disable_bonus_wait"`
	Weights          SchedulerWeights `toml:"weights"`
}

// SchedulerWeights is the [scheduler.weights] table.
type SchedulerWeights struct {
	LordUpgrade       float64 `toml:"lord_upgrade"`
	CompletedBuilding float64 `toml:"completed_building"`
	CompletedResearch float64 `toml:"completed_research"`
	FreeBuilderSlot   float64 `toml:"free_builder_slot"`
	FreeResearchSlot  float64 `toml:"free_research_slot"`
	WaitHour          float64 `toml:"wait_hour"`
	MaxWaitHours      float64 `toml:"max_wait_hours"`
}

// EmulatorSettings is the [emulator] section.
type EmulatorSettings struct {
	ConsolePath string `toml:"console_path"`
	ADBPath     string `toml:"adb_path"`
}

// WorkerSettings is the [worker] section.
type WorkerSettings struct {
	MaxActions int      `toml:"max_actions"`
	PerLevel   Duration `toml:"per_level"`
}

// LoadSettings reads settings.toml from path. A missing file yields zero
// Settings, which means defaults everywhere.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path) //nolint:gosec // path is the configured settings file
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, &protocol.ConfigError{File: path, Err: err}
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, &protocol.ConfigError{File: path, Err: err}
	}
	if err := s.validate(); err != nil {
		return s, &protocol.ConfigError{File: path, Section: "dispatcher", Err: err}
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.Dispatcher.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative, got %d", s.Dispatcher.MaxConcurrent)
	}
	if s.Dispatcher.StartRetries < 0 {
		return fmt.Errorf("start_retries must not be negative, got %d", s.Dispatcher.StartRetries)
	}
	return nil
}

// DispatcherConfig maps the [dispatcher] section. statusPath is supplied by
// the caller because it is a path, not a tuning knob.
func (s Settings) DispatcherConfig(statusPath string) dispatcher.Config {
	d := s.Dispatcher
	return dispatcher.Config{
		MaxConcurrent:   d.MaxConcurrent,
		PollInterval:    time.Duration(d.PollInterval),
		TaskTimeout:     time.Duration(d.TaskTimeout),
		StopTimeout:     time.Duration(d.StopTimeout),
		ShutdownTimeout: time.Duration(d.ShutdownTimeout),
		ErrorBackoff:    time.Duration(d.ErrorBackoff),
		BootTimeout:     time.Duration(d.BootTimeout),
		StartRetries:    d.StartRetries,
		StatusPath:      statusPath,
	}
}

// SchedulerConfig maps the [scheduler] section.
func (s Settings) SchedulerConfig() scheduler.Config {
	sc := s.Scheduler
	return scheduler.Config{
		LordUpgradeWeight:       sc.Weights.LordUpgrade,
		CompletedBuildingWeight: sc.Weights.CompletedBuilding,
		CompletedResearchWeight: sc.Weights.CompletedResearch,
		FreeBuilderSlotWeight:   sc.Weights.FreeBuilderSlot,
		FreeResearchSlotWeight:  sc.Weights.FreeResearchSlot,
		WaitHourWeight:          sc.Weights.WaitHour,
		MaxWaitHours:            sc.Weights.MaxWaitHours,
		MaxBonusWait:            time.Duration(sc.MaxBonusWait),
		DisableBonusWait:        sc.DisableBonusWait,
		CompletionBuffer:        time.Duration(sc.CompletionBuffer),
	}
}
