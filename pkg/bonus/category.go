// Package bonus answers "which bonus windows are active now" and "when is the
// next one" against a fixed weekly schedule of local wall-clock times.
package bonus

import (
	"strings"
	"unicode"

	"beastbot/pkg/protocol"
)

// Category is a closed set of bonus kinds. Free-text schedule descriptions
// are mapped onto it once, at load time.
type Category string

// Bonus categories.
const (
	BuildingPower Category = "building_power"
	ResearchPower Category = "research_power"
	TroopTraining Category = "troop_training"
	BeastPower    Category = "beast_power"
	Gathering     Category = "gathering"
	Hunting       Category = "hunting"
)

// AllCategories lists every category in display order.
func AllCategories() []Category {
	return []Category{BuildingPower, ResearchPower, TroopTraining, BeastPower, Gathering, Hunting}
}

// DefaultWeights is the priority bonus granted while a category is active.
func DefaultWeights() map[Category]int {
	return map[Category]int{
		BuildingPower: 50,
		ResearchPower: 40,
		TroopTraining: 20,
		BeastPower:    20,
		Gathering:     10,
		Hunting:       10,
	}
}

// keywords match the start of a word, so "construct" covers "construction"
// but "pet" does not fire inside "competition".
var keywords = []struct {
	category Category
	words    []string
}{
	{BuildingPower, []string{"building", "build", "construct"}},
	{ResearchPower, []string{"research", "tech", "academy"}},
	{TroopTraining, []string{"troop", "train", "soldier", "army"}},
	{BeastPower, []string{"beast", "pet", "hatch"}},
	{Gathering, []string{"gather", "resource", "harvest"}},
	{Hunting, []string{"hunt", "monster", "wild"}},
}

// ParseCategory accepts the canonical category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Classify maps a free-text description onto a Category by keyword match.
// Canonical names are accepted as-is. The earliest word in the text that
// matches a keyword decides.
func Classify(text string) (Category, bool) {
	if c, ok := ParseCategory(text); ok {
		return c, true
	}
	for _, field := range strings.FieldsFunc(strings.ToLower(text), isWordBreak) {
		for _, k := range keywords {
			for _, w := range k.words {
				if strings.HasPrefix(field, w) {
					return k.category, true
				}
			}
		}
	}
	return "", false
}

func isWordBreak(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// CategoryForAction is the one mapping from planned action to bonus category.
// The planner scores with it and the scheduler decides bonus waits with it.
func CategoryForAction(kind protocol.ActionKind) (Category, bool) {
	switch kind {
	case protocol.ActionBuilding, protocol.ActionLordUpgrade:
		return BuildingPower, true
	case protocol.ActionResearch:
		return ResearchPower, true
	default:
		return "", false
	}
}
