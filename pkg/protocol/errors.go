package protocol

import (
	"fmt"
	"time"
)

// EmulatorNotFoundError represents a lookup of an unknown emulator index.
type EmulatorNotFoundError struct {
	ID int
}

func (e *EmulatorNotFoundError) Error() string {
	return fmt.Sprintf("emulator %d not found", e.ID)
}

// ConfigError represents an unusable configuration file or section.
type ConfigError struct {
	File    string
	Section string // empty when the whole file is at fault
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("config %s [%s]: %v", e.File, e.Section, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TaskTimeoutError is recorded when a processing task exceeds its wall-clock
// budget and its slot is reclaimed.
type TaskTimeoutError struct {
	EmulatorID int
	Elapsed    time.Duration
	Limit      time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("emulator %d task timed out after %s (limit %s)",
		e.EmulatorID, e.Elapsed.Round(time.Second), e.Limit)
}
