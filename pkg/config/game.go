package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"beastbot/pkg/planner"
	"beastbot/pkg/protocol"
	"beastbot/pkg/store"

	"gopkg.in/yaml.v3"
)

// GameFile holds buildings, research and lord requirements.
const GameFile = protocol.GameConfigFile

// Game mirrors game.yaml.
type Game struct {
	Weights          GameWeights              `yaml:"weights"`
	Buildings        []Item                   `yaml:"buildings"`
	ResearchBranches map[string]Branch        `yaml:"research_branches"`
	Research         []Item                   `yaml:"research"`
	LordRequirements map[int]LevelRequirement `yaml:"lord_requirements"`
}

// GameWeights overrides the planner's fixed weights. Zero keeps the default.
type GameWeights struct {
	LordUpgrade     int `yaml:"lord_upgrade"`
	Blocking        int `yaml:"blocking"`
	DefaultBuilding int `yaml:"default_building"`
	DefaultResearch int `yaml:"default_research"`
}

// Item is a building or research entry.
type Item struct {
	Name    string `yaml:"name"`
	Branch  string `yaml:"branch,omitempty"`
	Target  int    `yaml:"target"`
	Speedup bool   `yaml:"speedup,omitempty"`
	Weight  int    `yaml:"weight,omitempty"`
}

// Branch gates a research branch behind a lord level.
type Branch struct {
	MinLordLevel int `yaml:"min_lord_level"`
	Weight       int `yaml:"weight"`
}

// LevelRequirement lists what must be reached before the lord can move up
// to the level it is keyed under.
type LevelRequirement struct {
	Buildings map[string]int `yaml:"buildings"`
	Research  map[string]int `yaml:"research"`
}

// LoadGame parses game.yaml. The file and its buildings and
// lord_requirements sections are required; bad entries inside them are
// dropped with a warning.
func LoadGame(path string, logger *slog.Logger) (*Game, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is the configured game file
	if err != nil {
		return nil, &protocol.ConfigError{File: path, Err: err}
	}
	return ParseGame(path, data, logger)
}

// ParseGame parses game.yaml content. name is used in errors only.
func ParseGame(name string, data []byte, logger *slog.Logger) (*Game, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var g Game
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, &protocol.ConfigError{File: name, Err: err}
	}
	if len(g.Buildings) == 0 {
		return nil, &protocol.ConfigError{File: name, Section: "buildings", Err: errors.New("missing or empty")}
	}
	if len(g.LordRequirements) == 0 {
		return nil, &protocol.ConfigError{File: name, Section: "lord_requirements", Err: errors.New("missing or empty")}
	}

	g.Buildings = cleanItems(g.Buildings, "building", logger)
	g.Research = cleanItems(g.Research, "research", logger)
	for _, r := range g.Research {
		if _, ok := g.ResearchBranches[r.Branch]; !ok {
			logger.Warn("research branch has no rule, using defaults", "research", r.Name, "branch", r.Branch)
		}
	}
	return &g, nil
}

func cleanItems(items []Item, kind string, logger *slog.Logger) []Item {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		switch {
		case it.Name == "":
			logger.Warn("skipping unnamed entry", "kind", kind)
			continue
		case it.Target <= 0:
			logger.Warn("skipping entry without a target level", "kind", kind, "name", it.Name)
			continue
		case seen[it.Name]:
			logger.Warn("skipping duplicate entry", "kind", kind, "name", it.Name)
			continue
		}
		seen[it.Name] = true
		out = append(out, it)
	}
	return out
}

// Requirements flattens lord_requirements into rows ordered by level,
// category and name. Non-positive levels are skipped.
func (g *Game) Requirements() []protocol.LordRequirement {
	var out []protocol.LordRequirement
	for level, req := range g.LordRequirements {
		for name, lvl := range req.Buildings {
			if lvl > 0 {
				out = append(out, protocol.LordRequirement{LordLevel: level, ItemName: name, RequiredLevel: lvl, Category: protocol.RequirementBuilding})
			}
		}
		for name, lvl := range req.Research {
			if lvl > 0 {
				out = append(out, protocol.LordRequirement{LordLevel: level, ItemName: name, RequiredLevel: lvl, Category: protocol.RequirementResearch})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LordLevel != b.LordLevel {
			return a.LordLevel < b.LordLevel
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.ItemName < b.ItemName
	})
	return out
}

// BuildingDefaults returns the rows seeded for each emulator.
func (g *Game) BuildingDefaults() []store.ProgressDefault {
	return toDefaults(g.Buildings)
}

// ResearchDefaults returns the research rows seeded for each emulator.
func (g *Game) ResearchDefaults() []store.ProgressDefault {
	return toDefaults(g.Research)
}

func toDefaults(items []Item) []store.ProgressDefault {
	out := make([]store.ProgressDefault, 0, len(items))
	for _, it := range items {
		out = append(out, store.ProgressDefault{Name: it.Name, Branch: it.Branch, Target: it.Target, Speedup: it.Speedup})
	}
	return out
}

// PlannerWeights layers the file's weights over planner.DefaultWeights.
func (g *Game) PlannerWeights() planner.Weights {
	w := planner.DefaultWeights()
	if g.Weights.LordUpgrade > 0 {
		w.LordUpgrade = g.Weights.LordUpgrade
	}
	if g.Weights.Blocking > 0 {
		w.Blocking = g.Weights.Blocking
	}
	if g.Weights.DefaultBuilding > 0 {
		w.DefaultBuilding = g.Weights.DefaultBuilding
	}
	if g.Weights.DefaultResearch > 0 {
		w.DefaultResearch = g.Weights.DefaultResearch
	}
	for _, b := range g.Buildings {
		if b.Weight > 0 {
			w.Buildings[b.Name] = b.Weight
		}
	}
	for name, br := range g.ResearchBranches {
		w.Branches[name] = planner.BranchRule{MinLordLevel: br.MinLordLevel, Weight: br.Weight}
	}
	return w
}

// Summary is a one-line description for logs.
func (g *Game) Summary() string {
	return fmt.Sprintf("%d buildings, %d research, %d lord levels",
		len(g.Buildings), len(g.Research), len(g.LordRequirements))
}
