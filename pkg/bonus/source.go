package bonus

import "sync/atomic"

// Source hands out the current Schedule and lets a config reload swap it
// without locking readers.
type Source struct {
	p atomic.Pointer[Schedule]
}

// NewSource wraps s; a nil s behaves as an empty schedule.
func NewSource(s *Schedule) *Source {
	src := &Source{}
	src.Replace(s)
	return src
}

// Current returns the active schedule, never nil.
func (src *Source) Current() *Schedule {
	if s := src.p.Load(); s != nil {
		return s
	}
	return NewSchedule(nil)
}

// Replace swaps in a new schedule.
func (src *Source) Replace(s *Schedule) {
	if s == nil {
		s = NewSchedule(nil)
	}
	src.p.Store(s)
}
