package store

import (
	"context"
	"fmt"
	"time"

	"beastbot/pkg/protocol"
)

// ReplaceRequirements swaps the whole lord_requirements table for reqs.
func (s *Store) ReplaceRequirements(ctx context.Context, reqs []protocol.LordRequirement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("requirements begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lord_requirements`); err != nil {
		return fmt.Errorf("requirements clear: %w", err)
	}
	for _, r := range reqs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lord_requirements (lord_level, item_name, required_level, category)
			 VALUES (?, ?, ?, ?)`,
			r.LordLevel, r.ItemName, r.RequiredLevel, string(r.Category)); err != nil {
			return fmt.Errorf("requirements insert %d/%s: %w", r.LordLevel, r.ItemName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("requirements commit: %w", err)
	}
	return nil
}

// RequirementsFor returns the requirement rows for a single lord level.
func (s *Store) RequirementsFor(ctx context.Context, lordLevel int) ([]protocol.LordRequirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lord_level, item_name, required_level, category
		 FROM lord_requirements WHERE lord_level = ?
		 ORDER BY category, item_name`, lordLevel)
	if err != nil {
		return nil, fmt.Errorf("requirements query: %w", err)
	}
	defer rows.Close()

	var out []protocol.LordRequirement
	for rows.Next() {
		var r protocol.LordRequirement
		var cat string
		if err := rows.Scan(&r.LordLevel, &r.ItemName, &r.RequiredLevel, &cat); err != nil {
			return nil, fmt.Errorf("requirements scan: %w", err)
		}
		r.Category = protocol.RequirementCategory(cat)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("requirements rows: %w", err)
	}
	return out, nil
}

// ReplaceBonusWindows swaps the weekly bonus schedule.
func (s *Store) ReplaceBonusWindows(ctx context.Context, windows []protocol.BonusWindow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bonus windows begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bonus_windows`); err != nil {
		return fmt.Errorf("bonus windows clear: %w", err)
	}
	for _, w := range windows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bonus_windows (day_of_week, hour, minute, category, description)
			 VALUES (?, ?, ?, ?, ?)`,
			int(w.Weekday), w.Hour, w.Minute, w.Category, w.Description); err != nil {
			return fmt.Errorf("bonus windows insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bonus windows commit: %w", err)
	}
	return nil
}

// ListBonusWindows returns the schedule ordered by week position.
func (s *Store) ListBonusWindows(ctx context.Context) ([]protocol.BonusWindow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, day_of_week, hour, minute, category, description
		 FROM bonus_windows ORDER BY day_of_week, hour, minute, id`)
	if err != nil {
		return nil, fmt.Errorf("bonus windows query: %w", err)
	}
	defer rows.Close()

	var out []protocol.BonusWindow
	for rows.Next() {
		var w protocol.BonusWindow
		var day int
		if err := rows.Scan(&w.ID, &day, &w.Hour, &w.Minute, &w.Category, &w.Description); err != nil {
			return nil, fmt.Errorf("bonus windows scan: %w", err)
		}
		w.Weekday = time.Weekday(day)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bonus windows rows: %w", err)
	}
	return out, nil
}
