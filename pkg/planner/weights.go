package planner

// Weights is the static scoring table for candidate actions.
type Weights struct {
	// LordUpgrade is the fixed priority of a ready lord upgrade.
	LordUpgrade int
	// Blocking is added to a building that the next lord level requires.
	Blocking int
	// Buildings maps building name to base priority.
	Buildings       map[string]int
	DefaultBuilding int
	// Branches gates research by lord level and gives each branch a flat
	// weight. Unknown branches are always open at DefaultResearch.
	Branches        map[string]BranchRule
	DefaultResearch int
}

// BranchRule is the research policy for one branch.
type BranchRule struct {
	MinLordLevel int
	Weight       int
}

// DefaultWeights returns the built-in table used when game.yaml does not
// override it.
func DefaultWeights() Weights {
	return Weights{
		LordUpgrade: 1000,
		Blocking:    100,
		Buildings: map[string]int{
			"Den":          30,
			"Warehouse":    25,
			"Beast Nest":   25,
			"Barracks":     20,
			"Farm":         15,
			"Lumber Yard":  15,
			"Quarry":       15,
			"Hospital":     12,
			"Wall":         12,
			"Academy":      20,
			"Watchtower":   8,
			"Trading Post": 5,
		},
		DefaultBuilding: 10,
		Branches: map[string]BranchRule{
			"economy":     {MinLordLevel: 1, Weight: 8},
			"development": {MinLordLevel: 6, Weight: 7},
			"military":    {MinLordLevel: 10, Weight: 6},
			"beast":       {MinLordLevel: 13, Weight: 5},
		},
		DefaultResearch: 5,
	}
}

// withDefaults fills zero fields from DefaultWeights.
func (w Weights) withDefaults() Weights {
	d := DefaultWeights()
	if w.LordUpgrade == 0 {
		w.LordUpgrade = d.LordUpgrade
	}
	if w.Blocking == 0 {
		w.Blocking = d.Blocking
	}
	if w.Buildings == nil {
		w.Buildings = d.Buildings
	}
	if w.DefaultBuilding == 0 {
		w.DefaultBuilding = d.DefaultBuilding
	}
	if w.Branches == nil {
		w.Branches = d.Branches
	}
	if w.DefaultResearch == 0 {
		w.DefaultResearch = d.DefaultResearch
	}
	return w
}

func (w Weights) building(name string) int {
	if v, ok := w.Buildings[name]; ok {
		return v
	}
	return w.DefaultBuilding
}

func (w Weights) branch(name string) BranchRule {
	if r, ok := w.Branches[name]; ok {
		return r
	}
	return BranchRule{Weight: w.DefaultResearch}
}
