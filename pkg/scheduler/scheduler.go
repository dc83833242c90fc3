// Package scheduler ranks emulators by how much useful work is waiting for
// them and decides when each one should next be looked at.
//
// A score is a sum of independent factors (lord upgrade ready, finished
// items to collect, idle slots, an active bonus window, time since the last
// pass). Eligibility is checked before scoring: emulators with a future
// next-check time, or parked waiting for a nearby bonus window, are skipped.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"beastbot/pkg/bonus"
	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
)

// Factor names.
const (
	FactorLordUpgradeReady   = "lord_upgrade_ready"
	FactorCompletedBuildings = "completed_buildings"
	FactorCompletedResearch  = "completed_research"
	FactorFreeBuilderSlot    = "free_builder_slot"
	FactorFreeResearchSlot   = "free_research_slot"
	FactorBonusWindow        = "bonus_window"
	FactorWaitTime           = "wait_time"
)

// --- Interfaces for testability ---

// Store is the subset of the progress store the scheduler reads and writes.
type Store interface {
	GetEmulator(ctx context.Context, id int) (protocol.Emulator, error)
	ListEmulators(ctx context.Context, enabledOnly bool) ([]protocol.Emulator, error)
	ListBuildings(ctx context.Context, emulatorID int) ([]protocol.Progress, error)
	ListResearch(ctx context.Context, emulatorID int) ([]protocol.Progress, error)
	UpdatePriority(ctx context.Context, id int, score float64) error
	SetNextCheck(ctx context.Context, id int, at time.Time) error
	SetWaitingForBonus(ctx context.Context, id int, target time.Time) error
	ClearWaitingForBonus(ctx context.Context, id int) error
	LogEvent(ctx context.Context, eventType, source string, emulatorID int, payload string) error
}

// Planner produces the per-emulator plan the factors are derived from.
type Planner interface {
	Plan(ctx context.Context, emulatorID, lordLevel int) (planner.Plan, error)
}

// --- Config ---

// Config holds factor weights and timing knobs.
type Config struct {
	LordUpgradeWeight       float64       // Flat, highest (default 100).
	CompletedBuildingWeight float64       // Per finished building (default 30).
	CompletedResearchWeight float64       // Per finished research (default 25).
	FreeBuilderSlotWeight   float64       // Per idle builder slot (default 20).
	FreeResearchSlotWeight  float64       // Per idle research slot (default 15).
	WaitHourWeight          float64       // Per hour since last pass (default 1).
	MaxWaitHours            float64       // Cap on counted hours (default 24).
	MaxBonusWait            time.Duration // Longest wait for a bonus window (default 2h).
	DisableBonusWait        bool          // Never park emulators for a bonus window.
	CompletionBuffer        time.Duration // Added to the earliest ETA (default 2m).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.LordUpgradeWeight == 0 {
		out.LordUpgradeWeight = 100
	}
	if out.CompletedBuildingWeight == 0 {
		out.CompletedBuildingWeight = 30
	}
	if out.CompletedResearchWeight == 0 {
		out.CompletedResearchWeight = 25
	}
	if out.FreeBuilderSlotWeight == 0 {
		out.FreeBuilderSlotWeight = 20
	}
	if out.FreeResearchSlotWeight == 0 {
		out.FreeResearchSlotWeight = 15
	}
	if out.WaitHourWeight == 0 {
		out.WaitHourWeight = 1
	}
	if out.MaxWaitHours == 0 {
		out.MaxWaitHours = 24
	}
	if out.MaxBonusWait == 0 {
		out.MaxBonusWait = 2 * time.Hour
	}
	if out.CompletionBuffer == 0 {
		out.CompletionBuffer = 2 * time.Minute
	}
	return out
}

// --- Result types ---

// Factor is one named contribution to an emulator's score.
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail,omitempty"`
}

// EmulatorPriority is the immutable scoring result for one emulator.
type EmulatorPriority struct {
	EmulatorID  int             `json:"emulator_id"`
	Name        string          `json:"name"`
	LordLevel   int             `json:"lord_level"`
	Total       float64         `json:"total_priority"`
	Action      *planner.Action `json:"action,omitempty"`
	BonusTarget time.Time       `json:"bonus_target,omitzero"`
	factors     []Factor
}

// Factors returns a copy of the non-zero score contributions.
func (p EmulatorPriority) Factors() []Factor {
	out := make([]Factor, len(p.factors))
	copy(out, p.factors)
	return out
}

// Factor looks up a contribution by name.
func (p EmulatorPriority) Factor(name string) (Factor, bool) {
	for _, f := range p.factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// MarshalJSON includes the factor list.
func (p EmulatorPriority) MarshalJSON() ([]byte, error) {
	type alias EmulatorPriority
	return json.Marshal(struct {
		alias
		Factors []Factor `json:"factors"`
	}{alias(p), p.Factors()})
}

// --- Scheduler ---

// Scheduler scores emulators and maintains their next-check times.
type Scheduler struct {
	cfg     Config
	store   Store
	planner Planner
	bonuses *bonus.Source
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates a Scheduler.
func New(cfg Config, store Store, pl Planner, bonuses *bonus.Source, logger *slog.Logger) *Scheduler {
	if bonuses == nil {
		bonuses = bonus.NewSource(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		planner: pl,
		bonuses: bonuses,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Scheduler) SetNowFunc(f func() time.Time) {
	s.nowFunc = f
}

// RankEligible scores every enabled, eligible emulator and returns at most
// maxCount of them, highest total first. Emulators with nothing to do
// (total of zero) are left out. Scores and bonus-wait flags are written back
// to the store.
func (s *Scheduler) RankEligible(ctx context.Context, maxCount int) ([]EmulatorPriority, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	emulators, err := s.store.ListEmulators(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("rank eligible: %w", err)
	}

	now := s.nowFunc()
	var ranked []EmulatorPriority
	for _, e := range emulators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.NextCheck.IsZero() && e.NextCheck.After(now) {
			continue
		}
		if e.WaitingForBonus {
			if e.BonusTarget.After(now) {
				continue
			}
			if err := s.store.ClearWaitingForBonus(ctx, e.ID); err != nil {
				s.logger.Warn("clear bonus wait", "emulator", e.ID, "error", err)
			}
		}

		p, err := s.evaluate(ctx, e, now)
		if err != nil {
			s.logger.Warn("skipping emulator, evaluation failed", "emulator", e.ID, "error", err)
			continue
		}
		if p.Total <= 0 {
			continue
		}

		if target, wait := s.shouldWaitForBonus(p, now); wait && !e.WaitingForBonus {
			s.parkForBonus(ctx, p, target)
			continue
		}

		if err := s.store.UpdatePriority(ctx, e.ID, p.Total); err != nil {
			s.logger.Warn("write priority", "emulator", e.ID, "error", err)
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Total > ranked[j].Total })
	if len(ranked) > maxCount {
		ranked = ranked[:maxCount]
	}
	return ranked, nil
}

// Evaluate scores one emulator ignoring the eligibility gate. Nothing is
// written back.
func (s *Scheduler) Evaluate(ctx context.Context, e protocol.Emulator) (EmulatorPriority, error) {
	return s.evaluate(ctx, e, s.nowFunc())
}

func (s *Scheduler) evaluate(ctx context.Context, e protocol.Emulator, now time.Time) (EmulatorPriority, error) {
	plan, err := s.planner.Plan(ctx, e.ID, e.LordLevel)
	if err != nil {
		return EmulatorPriority{}, err
	}
	cfg := s.cfg
	var factors []Factor
	add := func(name string, v float64, detail string) {
		if v != 0 {
			factors = append(factors, Factor{Name: name, Value: v, Detail: detail})
		}
	}

	if plan.LordUpgradeReady {
		add(FactorLordUpgradeReady, cfg.LordUpgradeWeight, fmt.Sprintf("lord %d→%d", e.LordLevel, e.LordLevel+1))
	}

	doneB := countCompleted(plan.Buildings, now)
	doneR := countCompleted(plan.Research, now)
	add(FactorCompletedBuildings, float64(doneB)*cfg.CompletedBuildingWeight, fmt.Sprintf("%d ready", doneB))
	add(FactorCompletedResearch, float64(doneR)*cfg.CompletedResearchWeight, fmt.Sprintf("%d ready", doneR))

	if plan.UpgradeableBuildings() > 0 {
		add(FactorFreeBuilderSlot, float64(plan.Slots.FreeBuilding)*cfg.FreeBuilderSlotWeight,
			fmt.Sprintf("%d/%d free", plan.Slots.FreeBuilding, plan.Slots.BuilderSlots))
	}
	if plan.UpgradeableResearch() > 0 {
		add(FactorFreeResearchSlot, float64(plan.Slots.FreeResearch)*cfg.FreeResearchSlotWeight,
			fmt.Sprintf("%d free", plan.Slots.FreeResearch))
	}

	if plan.Next != nil && plan.Next.Category != "" {
		if b := s.bonuses.Current().BonusFor(plan.Next.Category, now); b > 0 {
			add(FactorBonusWindow, float64(b), string(plan.Next.Category))
		}
	}

	hours := cfg.MaxWaitHours
	if !e.LastProcessed.IsZero() {
		hours = min(now.Sub(e.LastProcessed).Hours(), cfg.MaxWaitHours)
	}
	if hours > 0 {
		add(FactorWaitTime, hours*cfg.WaitHourWeight, fmt.Sprintf("%.1fh", hours))
	}

	total := 0.0
	for _, f := range factors {
		total += f.Value
	}
	return EmulatorPriority{
		EmulatorID: e.ID,
		Name:       e.Name,
		LordLevel:  e.LordLevel,
		Total:      total,
		Action:     plan.Next,
		factors:    factors,
	}, nil
}

func countCompleted(rows []protocol.Progress, now time.Time) int {
	n := 0
	for _, r := range rows {
		if r.Completed(now) {
			n++
		}
	}
	return n
}

// shouldWaitForBonus reports whether the planned action is better started in
// an upcoming bonus window within MaxBonusWait. Lord upgrades never wait, and
// a window further out than the horizon means "go now".
func (s *Scheduler) shouldWaitForBonus(p EmulatorPriority, now time.Time) (time.Time, bool) {
	if s.cfg.DisableBonusWait || p.Action == nil || p.Action.Kind == protocol.ActionLordUpgrade {
		return time.Time{}, false
	}
	cat := p.Action.Category
	if cat == "" {
		return time.Time{}, false
	}
	schedule := s.bonuses.Current()
	if schedule.IsActive(cat, now) {
		return time.Time{}, false
	}
	start, _, ok := schedule.NextWindow([]bonus.Category{cat}, now)
	if !ok || !start.After(now) || start.Sub(now) > s.cfg.MaxBonusWait {
		return time.Time{}, false
	}
	return start, true
}

func (s *Scheduler) parkForBonus(ctx context.Context, p EmulatorPriority, target time.Time) {
	if err := s.store.SetWaitingForBonus(ctx, p.EmulatorID, target); err != nil {
		s.logger.Warn("set bonus wait", "emulator", p.EmulatorID, "error", err)
		return
	}
	s.logger.Info("waiting for bonus window",
		"emulator", p.EmulatorID, "category", p.Action.Category, "target", target.Format(time.Kitchen))
	payload := fmt.Sprintf(`{"category":%q,"target":%q}`, p.Action.Category, target.UTC().Format(protocol.TimeLayout))
	if err := s.store.LogEvent(ctx, protocol.EventBonusWait, "scheduler", p.EmulatorID, payload); err != nil {
		s.logger.Warn("log bonus wait event", "emulator", p.EmulatorID, "error", err)
	}
}
