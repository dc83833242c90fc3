package protocol

// TaskState is the lifecycle state of one emulator processing task.
type TaskState string

// Task states. Error is absorbing and reachable from any other state.
const (
	TaskStarting   TaskState = "starting_emulator"
	TaskProcessing TaskState = "processing_game"
	TaskStopping   TaskState = "stopping_emulator"
	TaskCompleted  TaskState = "completed"
	TaskError      TaskState = "error"
)

// Terminal reports whether no further transitions happen from s.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// ActionKind identifies what a planned action does.
type ActionKind string

// Action kinds.
const (
	ActionLordUpgrade ActionKind = "LORD_UPGRADE"
	ActionBuilding    ActionKind = "BUILDING"
	ActionResearch    ActionKind = "RESEARCH"
)

// Event types written to the events table.
const (
	EventScan            = "scan"
	EventTaskStarted     = "task_started"
	EventTaskCompleted   = "task_completed"
	EventTaskFailed      = "task_failed"
	EventTaskTimeout     = "task_timeout"
	EventActionStarted   = "action_started"
	EventBonusWait       = "bonus_wait"
	EventConfigReload    = "config_reload"
	EventSchedulerError  = "scheduler_error"
	EventEnabledChanged  = "enabled_changed"
	EventScheduleReset   = "schedule_reset"
	EventSpeedupToggled  = "speedup_toggled"
	EventItemsCompleted  = "items_completed"
	EventConfigSynced    = "config_synced"
	EventForcedProcessed = "forced_process"
	EventLevelCorrected  = "level_corrected"
)

// BuilderSlots is the number of buildings that may be upgraded at once for a
// lord level. A fourth builder unlocks at lord 16.
func BuilderSlots(lordLevel int) int {
	if lordLevel >= 16 {
		return 4
	}
	return 3
}
