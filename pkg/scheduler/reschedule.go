package scheduler

import (
	"context"
	"fmt"
	"time"

	"beastbot/pkg/protocol"
)

// MinInterval is the shortest gap between passes for a lord level. Early
// game items finish quickly; later ones take hours.
func MinInterval(lordLevel int) time.Duration {
	switch {
	case lordLevel < 10:
		return 5 * time.Minute
	case lordLevel < 15:
		return 30 * time.Minute
	case lordLevel < 20:
		return time.Hour
	default:
		return 4 * time.Hour
	}
}

// NextCheckTime computes when an emulator should next be considered.
//
// With items in progress it is the earliest estimated completion plus
// buffer, but never before lastProcessed+MinInterval. With nothing in
// progress it is lastProcessed+MinInterval, or now if never processed.
func NextCheckTime(e protocol.Emulator, buildings, research []protocol.Progress, buffer time.Duration, now time.Time) time.Time {
	var floor time.Time
	if e.LastProcessed.IsZero() {
		floor = now
	} else {
		floor = e.LastProcessed.Add(MinInterval(e.LordLevel))
	}

	var earliest time.Time
	for _, rows := range [][]protocol.Progress{buildings, research} {
		for _, r := range rows {
			if !r.InProgress() || r.EstimatedCompletion.IsZero() {
				continue
			}
			if earliest.IsZero() || r.EstimatedCompletion.Before(earliest) {
				earliest = r.EstimatedCompletion
			}
		}
	}
	if earliest.IsZero() {
		return floor
	}
	next := earliest.Add(buffer)
	if next.Before(floor) {
		return floor
	}
	return next
}

// Reschedule recomputes and stores an emulator's next-check time.
func (s *Scheduler) Reschedule(ctx context.Context, emulatorID int) (time.Time, error) {
	e, err := s.store.GetEmulator(ctx, emulatorID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reschedule: %w", err)
	}
	buildings, err := s.store.ListBuildings(ctx, emulatorID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reschedule %d: %w", emulatorID, err)
	}
	research, err := s.store.ListResearch(ctx, emulatorID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reschedule %d: %w", emulatorID, err)
	}

	next := NextCheckTime(e, buildings, research, s.cfg.CompletionBuffer, s.nowFunc())
	if err := s.store.SetNextCheck(ctx, emulatorID, next); err != nil {
		return time.Time{}, fmt.Errorf("reschedule %d: %w", emulatorID, err)
	}
	s.logger.Debug("rescheduled", "emulator", emulatorID, "next_check", next)
	return next, nil
}
