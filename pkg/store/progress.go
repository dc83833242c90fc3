package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beastbot/pkg/protocol"
)

// progressTable selects building_progress or research_progress.
type progressTable string

const (
	buildingTable progressTable = "building_progress"
	researchTable progressTable = "research_progress"
)

// ProgressDefault seeds one progress row from configuration.
type ProgressDefault struct {
	Name    string
	Branch  string // research only
	Target  int
	Speedup bool
}

// EnsureBuildings creates missing building rows from configuration defaults.
// Existing rows keep their levels and timers; only the target is refreshed.
func (s *Store) EnsureBuildings(ctx context.Context, emulatorID int, defaults []ProgressDefault) error {
	return s.ensure(ctx, buildingTable, emulatorID, defaults)
}

// EnsureResearch creates missing research rows from configuration defaults.
func (s *Store) EnsureResearch(ctx context.Context, emulatorID int, defaults []ProgressDefault) error {
	return s.ensure(ctx, researchTable, emulatorID, defaults)
}

func (s *Store) ensure(ctx context.Context, table progressTable, emulatorID int, defaults []ProgressDefault) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s ensure begin: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range defaults {
		var q string
		var args []any
		if table == researchTable {
			q = `INSERT INTO research_progress (emulator_id, name, branch, target_level, speedup_enabled)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(emulator_id, name) DO UPDATE SET target_level = excluded.target_level,
				     branch = excluded.branch`
			args = []any{emulatorID, d.Name, d.Branch, d.Target, boolInt(d.Speedup)}
		} else {
			q = `INSERT INTO building_progress (emulator_id, name, target_level, speedup_enabled)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(emulator_id, name) DO UPDATE SET target_level = excluded.target_level`
			args = []any{emulatorID, d.Name, d.Target, boolInt(d.Speedup)}
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%s ensure %s: %w", table, d.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s ensure commit: %w", table, err)
	}
	return nil
}

// ListBuildings returns every building row for the emulator ordered by name.
func (s *Store) ListBuildings(ctx context.Context, emulatorID int) ([]protocol.Progress, error) {
	return s.list(ctx, buildingTable, emulatorID)
}

// ListResearch returns every research row for the emulator ordered by name.
func (s *Store) ListResearch(ctx context.Context, emulatorID int) ([]protocol.Progress, error) {
	return s.list(ctx, researchTable, emulatorID)
}

func (s *Store) list(ctx context.Context, table progressTable, emulatorID int) ([]protocol.Progress, error) {
	branch := `''`
	if table == researchTable {
		branch = `branch`
	}
	q := fmt.Sprintf(`
		SELECT emulator_id, name, %s, current_level, target_level, speedup_enabled,
		       started_at, estimated_completion
		FROM %s
		WHERE emulator_id = ?
		ORDER BY name
	`, branch, table)

	rows, err := s.db.QueryContext(ctx, q, emulatorID)
	if err != nil {
		return nil, fmt.Errorf("%s list: %w", table, err)
	}
	defer rows.Close()

	var out []protocol.Progress
	for rows.Next() {
		var (
			p              protocol.Progress
			speedup        int
			started, until sql.NullString
		)
		if err := rows.Scan(&p.EmulatorID, &p.Name, &p.Branch, &p.CurrentLevel, &p.TargetLevel,
			&speedup, &started, &until); err != nil {
			return nil, fmt.Errorf("%s list scan: %w", table, err)
		}
		p.SpeedupEnabled = speedup != 0
		p.StartedAt = s.parseTime(string(table)+".started_at", started)
		p.EstimatedCompletion = s.parseTime(string(table)+".estimated_completion", until)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s list rows: %w", table, err)
	}
	return out, nil
}

// StartBuilding marks a building as under construction until eta. Starting
// fails once every builder slot for the emulator's lord level is taken.
func (s *Store) StartBuilding(ctx context.Context, emulatorID int, name string, at, eta time.Time) error {
	var lord, busy int
	err := s.db.QueryRowContext(ctx, `
		SELECT e.lord_level,
		       (SELECT COUNT(*) FROM building_progress b
		        WHERE b.emulator_id = e.id AND b.started_at IS NOT NULL AND b.name != ?)
		FROM emulators e WHERE e.id = ?`, name, emulatorID).Scan(&lord, &busy)
	if errors.Is(err, sql.ErrNoRows) {
		return &protocol.EmulatorNotFoundError{ID: emulatorID}
	}
	if err != nil {
		return fmt.Errorf("builder slot check: %w", err)
	}
	if slots := protocol.BuilderSlots(lord); busy >= slots {
		return fmt.Errorf("builder slots full for emulator %d (%d of %d)", emulatorID, busy, slots)
	}
	return s.start(ctx, buildingTable, emulatorID, name, at, eta)
}

// StartResearch marks a research item as in progress until eta. The single
// research slot is enforced here: starting while another row is in progress
// fails.
func (s *Store) StartResearch(ctx context.Context, emulatorID int, name string, at, eta time.Time) error {
	var busy int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM research_progress WHERE emulator_id = ? AND started_at IS NOT NULL AND name != ?`,
		emulatorID, name).Scan(&busy); err != nil {
		return fmt.Errorf("research slot check: %w", err)
	}
	if busy > 0 {
		return fmt.Errorf("research slot busy for emulator %d", emulatorID)
	}
	return s.start(ctx, researchTable, emulatorID, name, at, eta)
}

func (s *Store) start(ctx context.Context, table progressTable, emulatorID int, name string, at, eta time.Time) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET started_at = ?, estimated_completion = ? WHERE emulator_id = ? AND name = ?`, table),
		formatTime(at), formatTime(eta), emulatorID, name)
	if err != nil {
		return fmt.Errorf("%s start %s: %w", table, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s start rows: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s start: no row %q for emulator %d", table, name, emulatorID)
	}
	return nil
}

// FinishBuilding bumps the level by one and frees the builder slot.
func (s *Store) FinishBuilding(ctx context.Context, emulatorID int, name string) error {
	return s.finish(ctx, buildingTable, emulatorID, name)
}

// FinishResearch bumps the level by one and frees the research slot.
func (s *Store) FinishResearch(ctx context.Context, emulatorID int, name string) error {
	return s.finish(ctx, researchTable, emulatorID, name)
}

func (s *Store) finish(ctx context.Context, table progressTable, emulatorID int, name string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET current_level = current_level + 1, started_at = NULL,
			estimated_completion = NULL WHERE emulator_id = ? AND name = ? AND started_at IS NOT NULL`, table),
		emulatorID, name)
	if err != nil {
		return fmt.Errorf("%s finish %s: %w", table, name, err)
	}
	return nil
}

// FinishDue completes every building and research row whose estimated
// completion is at or before now. Returns the number of rows finished per kind.
func (s *Store) FinishDue(ctx context.Context, emulatorID int, now time.Time) (buildings, research int, err error) {
	cutoff := formatTime(now)
	counts := make([]int, 2)
	for i, table := range []progressTable{buildingTable, researchTable} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET current_level = current_level + 1, started_at = NULL,
				estimated_completion = NULL
				WHERE emulator_id = ? AND started_at IS NOT NULL
				  AND estimated_completion IS NOT NULL AND estimated_completion <= ?`, table),
			emulatorID, cutoff)
		if err != nil {
			return 0, 0, fmt.Errorf("%s finish due: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("%s finish due rows: %w", table, err)
		}
		counts[i] = int(n)
	}
	return counts[0], counts[1], nil
}

// SetBuildingSpeedup toggles the speed-up flag on one building row.
func (s *Store) SetBuildingSpeedup(ctx context.Context, emulatorID int, name string, on bool) error {
	return s.setSpeedup(ctx, buildingTable, emulatorID, name, on)
}

// SetResearchSpeedup toggles the speed-up flag on one research row.
func (s *Store) SetResearchSpeedup(ctx context.Context, emulatorID int, name string, on bool) error {
	return s.setSpeedup(ctx, researchTable, emulatorID, name, on)
}

func (s *Store) setSpeedup(ctx context.Context, table progressTable, emulatorID int, name string, on bool) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET speedup_enabled = ? WHERE emulator_id = ? AND name = ?`, table),
		boolInt(on), emulatorID, name)
	if err != nil {
		return fmt.Errorf("%s speedup %s: %w", table, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s speedup rows: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s speedup: no row %q for emulator %d", table, name, emulatorID)
	}
	return nil
}

// SetBuildingLevel overwrites the current level of a building, e.g. after a
// manual correction.
func (s *Store) SetBuildingLevel(ctx context.Context, emulatorID int, name string, level int) error {
	return s.setLevel(ctx, buildingTable, emulatorID, name, level)
}

// SetResearchLevel overwrites the current level of a research item.
func (s *Store) SetResearchLevel(ctx context.Context, emulatorID int, name string, level int) error {
	return s.setLevel(ctx, researchTable, emulatorID, name, level)
}

func (s *Store) setLevel(ctx context.Context, table progressTable, emulatorID int, name string, level int) error {
	if level < 0 {
		return fmt.Errorf("%s set level %s: negative level %d", table, name, level)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET current_level = ? WHERE emulator_id = ? AND name = ?`, table),
		level, emulatorID, name)
	if err != nil {
		return fmt.Errorf("%s set level %s: %w", table, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s set level rows: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s set level: no row %q for emulator %d", table, name, emulatorID)
	}
	return nil
}
