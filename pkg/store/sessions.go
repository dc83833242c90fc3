package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beastbot/pkg/protocol"

	"github.com/google/uuid"
)

// StartSession opens a session record and returns its ID.
func (s *Store) StartSession(ctx context.Context, emulatorID int, at time.Time) (string, error) {
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, emulator_id, started_at) VALUES (?, ?, ?)`,
		id, emulatorID, formatTime(at)); err != nil {
		return "", fmt.Errorf("session start: %w", err)
	}
	return id, nil
}

// FinishSession closes a session record with its outcome. A session that
// was never opened is inserted whole.
func (s *Store) FinishSession(ctx context.Context, sess protocol.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, emulator_id, started_at, ended_at, success, actions,
		    buildings_started, research_started, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ended_at = excluded.ended_at, success = excluded.success,
		    actions = excluded.actions, buildings_started = excluded.buildings_started,
		    research_started = excluded.research_started, error = excluded.error`,
		sess.ID, sess.EmulatorID, formatTime(sess.StartedAt), formatTime(sess.EndedAt),
		boolInt(sess.Success), sess.Actions, sess.BuildingsStarted, sess.ResearchStarted, sess.Error)
	if err != nil {
		return fmt.Errorf("session finish %s: %w", sess.ID, err)
	}
	return nil
}

// RecentSessions returns the newest sessions first. emulatorID < 0 means all.
func (s *Store) RecentSessions(ctx context.Context, limit, emulatorID int) ([]protocol.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, emulator_id, started_at, ended_at, success, actions, buildings_started,
	             research_started, error
	      FROM sessions`
	var args []any
	if emulatorID >= 0 {
		q += ` WHERE emulator_id = ?`
		args = append(args, emulatorID)
	}
	q += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	defer rows.Close()

	var out []protocol.Session
	for rows.Next() {
		var (
			sess         protocol.Session
			started, end sql.NullString
			success      int
		)
		if err := rows.Scan(&sess.ID, &sess.EmulatorID, &started, &end, &success, &sess.Actions,
			&sess.BuildingsStarted, &sess.ResearchStarted, &sess.Error); err != nil {
			return nil, fmt.Errorf("session list scan: %w", err)
		}
		sess.StartedAt = s.parseTime("sessions.started_at", started)
		sess.EndedAt = s.parseTime("sessions.ended_at", end)
		sess.Success = success != 0
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session list rows: %w", err)
	}
	return out, nil
}
