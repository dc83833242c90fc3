package bonus

import (
	"time"

	"beastbot/pkg/protocol"
)

// DefaultWindows is the schedule used when no bonus.yaml is present.
func DefaultWindows() []Window {
	return []Window{
		{Weekday: time.Monday, Hour: 9, Minute: 5, Category: BuildingPower, Description: "Building power-up"},
		{Weekday: time.Tuesday, Hour: 9, Minute: 5, Category: ResearchPower, Description: "Research boost"},
		{Weekday: time.Wednesday, Hour: 20, Minute: 0, Category: TroopTraining, Description: "Troop training"},
		{Weekday: time.Thursday, Hour: 9, Minute: 5, Category: BuildingPower, Description: "Construction rush"},
		{Weekday: time.Thursday, Hour: 21, Minute: 0, Category: ResearchPower, Description: "Tech surge"},
		{Weekday: time.Friday, Hour: 20, Minute: 0, Category: BeastPower, Description: "Beast power-up"},
		{Weekday: time.Saturday, Hour: 12, Minute: 0, Category: Gathering, Description: "Resource gathering"},
		{Weekday: time.Sunday, Hour: 20, Minute: 0, Category: Hunting, Description: "Monster hunt"},
	}
}

// ToRows converts windows to their stored form.
func ToRows(windows []Window) []protocol.BonusWindow {
	rows := make([]protocol.BonusWindow, 0, len(windows))
	for _, w := range windows {
		rows = append(rows, protocol.BonusWindow{
			Weekday:     w.Weekday,
			Hour:        w.Hour,
			Minute:      w.Minute,
			Category:    string(w.Category),
			Description: w.Description,
		})
	}
	return rows
}
