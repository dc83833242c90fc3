package bonus

import (
	"fmt"
	"log/slog"
	"time"

	"beastbot/pkg/protocol"
)

// DefaultTolerance is how far either side of a window's start time it still
// counts as active.
const DefaultTolerance = 5 * time.Minute

// lookahead bounds NextWindow's forward search.
const lookahead = 7 * 24 * time.Hour

// Window is one weekly bonus slot.
type Window struct {
	Weekday     time.Weekday
	Hour        int
	Minute      int
	Category    Category
	Description string
	Duration    time.Duration // active span after the start; zero means an instant
}

// Validate reports malformed clock fields.
func (w Window) Validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("weekday %d out of range", w.Weekday)
	}
	if w.Hour < 0 || w.Hour > 23 {
		return fmt.Errorf("hour %d out of range", w.Hour)
	}
	if w.Minute < 0 || w.Minute > 59 {
		return fmt.Errorf("minute %d out of range", w.Minute)
	}
	if w.Duration < 0 {
		return fmt.Errorf("negative duration %s", w.Duration)
	}
	return nil
}

// occurrence returns the window's start in the same week position as t.
func (w Window) occurrence(t time.Time) time.Time {
	offset := int(w.Weekday) - int(t.Weekday())
	y, m, d := t.Date()
	return time.Date(y, m, d+offset, w.Hour, w.Minute, 0, 0, t.Location())
}

// Schedule is an immutable weekly bonus schedule.
type Schedule struct {
	windows   []Window
	tolerance time.Duration
	weights   map[Category]int
}

// Option configures a Schedule.
type Option func(*Schedule)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) Option {
	return func(s *Schedule) { s.tolerance = d }
}

// WithWeights overrides DefaultWeights. Missing categories weigh zero.
func WithWeights(w map[Category]int) Option {
	return func(s *Schedule) {
		s.weights = make(map[Category]int, len(w))
		for k, v := range w {
			s.weights[k] = v
		}
	}
}

// NewSchedule builds a Schedule. Invalid windows are dropped; callers that
// need to report them should Validate first (see FromRows).
func NewSchedule(windows []Window, opts ...Option) *Schedule {
	s := &Schedule{tolerance: DefaultTolerance, weights: DefaultWeights()}
	for _, o := range opts {
		o(s)
	}
	for _, w := range windows {
		if w.Validate() == nil {
			s.windows = append(s.windows, w)
		}
	}
	return s
}

// FromRows converts stored rows into a Schedule. Rows with an unknown
// category or bad clock fields are skipped with a warning.
func FromRows(rows []protocol.BonusWindow, logger *slog.Logger, opts ...Option) *Schedule {
	if logger == nil {
		logger = slog.Default()
	}
	windows := make([]Window, 0, len(rows))
	for _, r := range rows {
		cat, ok := ParseCategory(r.Category)
		if !ok {
			logger.Warn("skipping bonus window with unknown category", "id", r.ID, "category", r.Category)
			continue
		}
		w := Window{Weekday: r.Weekday, Hour: r.Hour, Minute: r.Minute, Category: cat, Description: r.Description}
		if err := w.Validate(); err != nil {
			logger.Warn("skipping malformed bonus window", "id", r.ID, "error", err)
			continue
		}
		windows = append(windows, w)
	}
	return NewSchedule(windows, opts...)
}

// Windows returns a copy of the schedule's windows.
func (s *Schedule) Windows() []Window {
	out := make([]Window, len(s.windows))
	copy(out, s.windows)
	return out
}

// Weight returns the configured bonus for c regardless of time.
func (s *Schedule) Weight(c Category) int {
	return s.weights[c]
}

func (s *Schedule) active(w Window, t time.Time) bool {
	base := w.occurrence(t)
	for _, shift := range []int{-7, 0, 7} {
		start := base.AddDate(0, 0, shift)
		if !t.Before(start.Add(-s.tolerance)) && !t.After(start.Add(w.Duration+s.tolerance)) {
			return true
		}
	}
	return false
}

// ActiveCategories returns the distinct categories active at t, in
// AllCategories order.
func (s *Schedule) ActiveCategories(t time.Time) []Category {
	seen := make(map[Category]bool)
	for _, w := range s.windows {
		if s.active(w, t) {
			seen[w.Category] = true
		}
	}
	return ordered(seen)
}

// IsActive reports whether c is active at t.
func (s *Schedule) IsActive(c Category, t time.Time) bool {
	for _, w := range s.windows {
		if w.Category == c && s.active(w, t) {
			return true
		}
	}
	return false
}

// BonusFor returns c's weight when active at t, else 0.
func (s *Schedule) BonusFor(c Category, t time.Time) int {
	if !s.IsActive(c, t) {
		return 0
	}
	return s.weights[c]
}

// NextWindow finds the earliest window start at or after from, within seven
// days, whose category is in want (any category when want is empty). The
// returned slice holds every category scheduled at that exact start.
func (s *Schedule) NextWindow(want []Category, from time.Time) (time.Time, []Category, bool) {
	wanted := make(map[Category]bool, len(want))
	for _, c := range want {
		wanted[c] = true
	}

	var best time.Time
	found := false
	for _, w := range s.windows {
		if len(wanted) > 0 && !wanted[w.Category] {
			continue
		}
		start := w.occurrence(from)
		if start.Before(from) {
			start = start.AddDate(0, 0, 7)
		}
		if start.Sub(from) > lookahead {
			continue
		}
		if !found || start.Before(best) {
			best = start
			found = true
		}
	}
	if !found {
		return time.Time{}, nil, false
	}

	at := make(map[Category]bool)
	for _, w := range s.windows {
		start := w.occurrence(best)
		if start.Equal(best) {
			at[w.Category] = true
		}
	}
	return best, ordered(at), true
}

func ordered(set map[Category]bool) []Category {
	out := make([]Category, 0, len(set))
	for _, c := range AllCategories() {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}
