package dispatcher

import "time"

// Stats are cumulative counters for reporting. Failed includes timeouts.
type Stats struct {
	TotalProcessed  int           `json:"total_processed"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	TimedOut        int           `json:"timed_out"`
	AverageDuration time.Duration `json:"average_duration"`
	LastFinished    time.Time     `json:"last_finished,omitzero"`
}

// Stats returns a copy of the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// ResetStats zeroes the cumulative counters.
func (d *Dispatcher) ResetStats() {
	d.statsMu.Lock()
	d.stats = Stats{}
	d.statsMu.Unlock()
	d.logger.Info("statistics reset")
}

func (d *Dispatcher) recordStats(outcome string, elapsed time.Duration, at time.Time) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	s := &d.stats
	s.TotalProcessed++
	switch outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeTimeout:
		s.TimedOut++
		s.Failed++
	default:
		s.Failed++
	}
	// Running mean.
	s.AverageDuration += (elapsed - s.AverageDuration) / time.Duration(s.TotalProcessed)
	s.LastFinished = at
}
