package protocol

import "time"

// Emulator represents a row in the emulators SQLite table.
type Emulator struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Enabled         bool      `json:"enabled"`
	Note            string    `json:"note"`
	LordLevel       int       `json:"lord_level"`
	LastProcessed   time.Time `json:"last_processed"`
	NextCheck       time.Time `json:"next_check"`
	PriorityScore   float64   `json:"priority_score"`
	WaitingForBonus bool      `json:"waiting_for_bonus"`
	BonusTarget     time.Time `json:"bonus_target"`
}

// Progress is a row in building_progress or research_progress. Branch is
// only meaningful for research.
type Progress struct {
	EmulatorID          int       `json:"emulator_id"`
	Name                string    `json:"name"`
	Branch              string    `json:"branch,omitempty"`
	CurrentLevel        int       `json:"current_level"`
	TargetLevel         int       `json:"target_level"`
	SpeedupEnabled      bool      `json:"speedup_enabled"`
	StartedAt           time.Time `json:"started_at"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// InProgress reports whether the row is occupying a slot.
func (p Progress) InProgress() bool {
	return !p.StartedAt.IsZero()
}

// Completed reports whether an in-progress row has passed its estimated
// completion time at now.
func (p Progress) Completed(now time.Time) bool {
	return p.InProgress() && !p.EstimatedCompletion.IsZero() && !p.EstimatedCompletion.After(now)
}

// Upgradeable reports whether the row is below target and not in progress.
func (p Progress) Upgradeable() bool {
	return !p.InProgress() && p.CurrentLevel < p.TargetLevel
}

// RequirementCategory is the item kind a lord requirement refers to.
type RequirementCategory string

// Requirement categories.
const (
	RequirementBuilding RequirementCategory = "building"
	RequirementResearch RequirementCategory = "research"
)

// Valid reports whether c is a known requirement category.
func (c RequirementCategory) Valid() bool {
	return c == RequirementBuilding || c == RequirementResearch
}

// LordRequirement represents a row in the lord_requirements table.
type LordRequirement struct {
	LordLevel     int                 `json:"lord_level"`
	ItemName      string              `json:"item_name"`
	RequiredLevel int                 `json:"required_level"`
	Category      RequirementCategory `json:"category"`
}

// BonusWindow represents a row in the bonus_windows table.
type BonusWindow struct {
	ID          int64        `json:"id"`
	Weekday     time.Weekday `json:"day_of_week"`
	Hour        int          `json:"hour"`
	Minute      int          `json:"minute"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
}

// Session represents a row in the sessions table.
type Session struct {
	ID               string    `json:"id"`
	EmulatorID       int       `json:"emulator_id"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	Success          bool      `json:"success"`
	Actions          int       `json:"actions"`
	BuildingsStarted int       `json:"buildings_started"`
	ResearchStarted  int       `json:"research_started"`
	Error            string    `json:"error"`
}
