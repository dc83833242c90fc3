// Package planner decides what an emulator should do next: upgrade the lord,
// start a building level-up, or start a research level-up. It only reads
// state; starting the work is the executor's job.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"beastbot/pkg/bonus"
	"beastbot/pkg/protocol"
)

// Store is the read side of the progress store the planner needs.
type Store interface {
	ListBuildings(ctx context.Context, emulatorID int) ([]protocol.Progress, error)
	ListResearch(ctx context.Context, emulatorID int) ([]protocol.Progress, error)
	RequirementsFor(ctx context.Context, lordLevel int) ([]protocol.LordRequirement, error)
}

// Action is a single planner-selected unit of work.
type Action struct {
	Kind      protocol.ActionKind `json:"kind"`
	Name      string              `json:"name"`
	FromLevel int                 `json:"from_level"`
	ToLevel   int                 `json:"to_level"`
	Priority  int                 `json:"priority"`
	Bonus     int                 `json:"bonus"`
	Blocking  bool                `json:"blocking,omitempty"`
	Speedup   bool                `json:"speedup,omitempty"`
	Category  bonus.Category      `json:"category,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case protocol.ActionLordUpgrade:
		return fmt.Sprintf("lord upgrade %d→%d", a.FromLevel, a.ToLevel)
	default:
		return fmt.Sprintf("%s %s %d→%d (priority %d)", a.Kind, a.Name, a.FromLevel, a.ToLevel, a.Priority)
	}
}

// SlotInfo summarises construction and research concurrency.
type SlotInfo struct {
	BuilderSlots        int `json:"builder_slots"`
	BuildingsInProgress int `json:"buildings_in_progress"`
	FreeBuilding        int `json:"free_building"`
	ResearchInProgress  int `json:"research_in_progress"`
	FreeResearch        int `json:"free_research"`
}

// Plan is the full planner view of one emulator at one instant.
type Plan struct {
	EmulatorID       int                 `json:"emulator_id"`
	LordLevel        int                 `json:"lord_level"`
	LordUpgradeReady bool                `json:"lord_upgrade_ready"`
	Slots            SlotInfo            `json:"slots"`
	Buildings        []protocol.Progress `json:"buildings"`
	Research         []protocol.Progress `json:"research"`
	Candidates       []Action            `json:"candidates"` // sorted by descending priority, stable
	Next             *Action             `json:"next"`
}

// UpgradeableBuildings counts buildings below target and idle.
func (p Plan) UpgradeableBuildings() int {
	return countUpgradeable(p.Buildings)
}

// UpgradeableResearch counts research items below target and idle.
func (p Plan) UpgradeableResearch() int {
	return countUpgradeable(p.Research)
}

func countUpgradeable(rows []protocol.Progress) int {
	n := 0
	for _, r := range rows {
		if r.Upgradeable() {
			n++
		}
	}
	return n
}

// Planner scores candidate actions for an emulator.
type Planner struct {
	store   Store
	bonuses *bonus.Source
	weights Weights
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates a Planner. A nil bonuses source means no bonus windows.
func New(store Store, bonuses *bonus.Source, weights Weights, logger *slog.Logger) *Planner {
	if bonuses == nil {
		bonuses = bonus.NewSource(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:   store,
		bonuses: bonuses,
		weights: weights.withDefaults(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (p *Planner) SetNowFunc(f func() time.Time) {
	p.nowFunc = f
}

// SlotsForLordLevel is the number of builder slots at a lord level.
func SlotsForLordLevel(lordLevel int) int {
	return protocol.BuilderSlots(lordLevel)
}

// ResearchSlots is the fixed research concurrency.
const ResearchSlots = 1

// Slots reports builder and research slot usage for an emulator.
func (p *Planner) Slots(ctx context.Context, emulatorID, lordLevel int) (SlotInfo, error) {
	buildings, err := p.store.ListBuildings(ctx, emulatorID)
	if err != nil {
		return SlotInfo{}, fmt.Errorf("slots for emulator %d: %w", emulatorID, err)
	}
	research, err := p.store.ListResearch(ctx, emulatorID)
	if err != nil {
		return SlotInfo{}, fmt.Errorf("slots for emulator %d: %w", emulatorID, err)
	}
	return slotInfo(lordLevel, buildings, research), nil
}

// Candidates returns every ranked candidate, ignoring slot capacity.
func (p *Planner) Candidates(ctx context.Context, emulatorID, lordLevel int) ([]Action, error) {
	plan, err := p.Plan(ctx, emulatorID, lordLevel)
	if err != nil {
		return nil, err
	}
	return plan.Candidates, nil
}

// NextAction returns the highest-priority action that has a free slot, or
// nil when nothing can be started.
func (p *Planner) NextAction(ctx context.Context, emulatorID, lordLevel int) (*Action, error) {
	plan, err := p.Plan(ctx, emulatorID, lordLevel)
	if err != nil {
		return nil, err
	}
	return plan.Next, nil
}

// Plan evaluates an emulator: lord-upgrade readiness, slot usage, and the
// ranked candidate list.
func (p *Planner) Plan(ctx context.Context, emulatorID, lordLevel int) (Plan, error) {
	plan := Plan{EmulatorID: emulatorID, LordLevel: lordLevel}

	buildings, err := p.store.ListBuildings(ctx, emulatorID)
	if err != nil {
		return plan, fmt.Errorf("plan emulator %d: %w", emulatorID, err)
	}
	research, err := p.store.ListResearch(ctx, emulatorID)
	if err != nil {
		return plan, fmt.Errorf("plan emulator %d: %w", emulatorID, err)
	}
	nextReqs, err := p.store.RequirementsFor(ctx, lordLevel+1)
	if err != nil {
		return plan, fmt.Errorf("plan emulator %d: %w", emulatorID, err)
	}
	plan.Buildings = buildings
	plan.Research = research
	plan.Slots = slotInfo(lordLevel, buildings, research)

	if p.requirementsMet(emulatorID, nextReqs, buildings, research) {
		plan.LordUpgradeReady = true
		plan.Next = &Action{
			Kind:      protocol.ActionLordUpgrade,
			Name:      "Lord",
			FromLevel: lordLevel,
			ToLevel:   lordLevel + 1,
			Priority:  p.weights.LordUpgrade,
		}
		plan.Next.Category, _ = bonus.CategoryForAction(protocol.ActionLordUpgrade)
		plan.Candidates = []Action{*plan.Next}
		return plan, nil
	}

	schedule := p.bonuses.Current()
	now := p.nowFunc()
	plan.Candidates = p.candidates(lordLevel, nextReqs, buildings, research, schedule, now)

	for i := range plan.Candidates {
		c := plan.Candidates[i]
		if hasCapacity(c.Kind, plan.Slots) {
			plan.Next = &c
			break
		}
	}
	return plan, nil
}

func slotInfo(lordLevel int, buildings, research []protocol.Progress) SlotInfo {
	info := SlotInfo{BuilderSlots: SlotsForLordLevel(lordLevel)}
	for _, b := range buildings {
		if b.InProgress() {
			info.BuildingsInProgress++
		}
	}
	for _, r := range research {
		if r.InProgress() {
			info.ResearchInProgress++
		}
	}
	info.FreeBuilding = max(0, info.BuilderSlots-info.BuildingsInProgress)
	info.FreeResearch = max(0, ResearchSlots-info.ResearchInProgress)
	return info
}

func hasCapacity(kind protocol.ActionKind, slots SlotInfo) bool {
	switch kind {
	case protocol.ActionBuilding:
		return slots.FreeBuilding > 0
	case protocol.ActionResearch:
		return slots.FreeResearch > 0
	default:
		return true
	}
}

// requirementsMet reports whether every requirement row is satisfied. No rows
// means the next level is unknown, which is never "ready".
func (p *Planner) requirementsMet(emulatorID int, reqs []protocol.LordRequirement, buildings, research []protocol.Progress) bool {
	if len(reqs) == 0 {
		return false
	}
	levels := map[protocol.RequirementCategory]map[string]int{
		protocol.RequirementBuilding: levelIndex(buildings),
		protocol.RequirementResearch: levelIndex(research),
	}
	for _, r := range reqs {
		have, ok := levels[r.Category][r.ItemName]
		if !ok {
			p.logger.Warn("no progress row for lord requirement, assuming level 0",
				"emulator", emulatorID, "item", r.ItemName, "category", r.Category)
		}
		if have < r.RequiredLevel {
			return false
		}
	}
	return true
}

func levelIndex(rows []protocol.Progress) map[string]int {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Name] = r.CurrentLevel
	}
	return out
}

func (p *Planner) candidates(lordLevel int, nextReqs []protocol.LordRequirement, buildings, research []protocol.Progress, schedule *bonus.Schedule, now time.Time) []Action {
	blocking := make(map[string]int)
	for _, r := range nextReqs {
		if r.Category == protocol.RequirementBuilding {
			blocking[r.ItemName] = r.RequiredLevel
		}
	}

	buildingCat, _ := bonus.CategoryForAction(protocol.ActionBuilding)
	researchCat, _ := bonus.CategoryForAction(protocol.ActionResearch)
	buildingBonus := schedule.BonusFor(buildingCat, now)
	researchBonus := schedule.BonusFor(researchCat, now)

	var out []Action
	for _, b := range buildings {
		if !b.Upgradeable() {
			continue
		}
		a := Action{
			Kind:      protocol.ActionBuilding,
			Name:      b.Name,
			FromLevel: b.CurrentLevel,
			ToLevel:   b.CurrentLevel + 1,
			Speedup:   b.SpeedupEnabled,
			Category:  buildingCat,
			Bonus:     buildingBonus,
		}
		a.Priority = p.weights.building(b.Name)
		if req, ok := blocking[b.Name]; ok && b.CurrentLevel < req {
			a.Blocking = true
			a.Priority += p.weights.Blocking
		}
		a.Priority += a.Bonus
		out = append(out, a)
	}

	for _, r := range research {
		if !r.Upgradeable() {
			continue
		}
		rule := p.weights.branch(r.Branch)
		if lordLevel < rule.MinLordLevel {
			continue
		}
		a := Action{
			Kind:      protocol.ActionResearch,
			Name:      r.Name,
			FromLevel: r.CurrentLevel,
			ToLevel:   r.CurrentLevel + 1,
			Speedup:   r.SpeedupEnabled,
			Category:  researchCat,
			Bonus:     researchBonus,
		}
		a.Priority = rule.Weight + a.Bonus
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
