// Package store is the single writer of persisted beastbot state. It wraps a
// SQLite database holding per-emulator progress, static reference data
// (lord requirements, bonus schedule), session history, and the event log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beastbot/pkg/protocol"
)

// Store manages the beastbot tables in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by the given SQLite database. The schema
// must already be applied (see Init).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Init applies the schema and best-effort migrations.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// Column may already exist; ALTER TABLE errors are expected then.
	_, _ = s.db.ExecContext(ctx, protocol.MigrateResearchBranch)
	return nil
}

// DB exposes the underlying handle for read-only consumers such as eventlog.
func (s *Store) DB() *sql.DB {
	return s.db
}

// formatTime renders t for storage; the zero time is stored as NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(protocol.TimeLayout), Valid: true}
}

// parseTime reads a stored timestamp. Malformed values are treated as unset
// and logged, so planning can continue on partial data.
func (s *Store) parseTime(field string, v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(protocol.TimeLayout, v.String, time.UTC)
	if err != nil {
		s.logger.Warn("malformed timestamp, treating as unset", "field", field, "value", v.String, "error", err)
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Emulators ---

// UpsertEmulator creates the emulator row on first discovery or refreshes its
// name. Progress and scheduling fields of an existing row are untouched.
// Returns true when a new row was created.
func (s *Store) UpsertEmulator(ctx context.Context, id int, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emulators (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, name)
	if err != nil {
		return false, fmt.Errorf("emulator insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("emulator insert rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE emulators SET name = ?, updated_at = datetime('now') WHERE id = ? AND name != ?`,
		name, id, name); err != nil {
		return false, fmt.Errorf("emulator rename: %w", err)
	}
	return false, nil
}

const emulatorColumns = `id, name, enabled, note, lord_level, last_processed, next_check,
	priority_score, waiting_for_bonus, bonus_target`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEmulator(row rowScanner) (protocol.Emulator, error) {
	var (
		e                               protocol.Emulator
		enabled, waiting                int
		lastProcessed, nextCheck, bonus sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, &enabled, &e.Note, &e.LordLevel,
		&lastProcessed, &nextCheck, &e.PriorityScore, &waiting, &bonus); err != nil {
		return e, err
	}
	e.Enabled = enabled != 0
	e.WaitingForBonus = waiting != 0
	e.LastProcessed = s.parseTime("last_processed", lastProcessed)
	e.NextCheck = s.parseTime("next_check", nextCheck)
	e.BonusTarget = s.parseTime("bonus_target", bonus)
	return e, nil
}

// GetEmulator returns one emulator or *protocol.EmulatorNotFoundError.
func (s *Store) GetEmulator(ctx context.Context, id int) (protocol.Emulator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emulatorColumns+` FROM emulators WHERE id = ?`, id)
	e, err := s.scanEmulator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, &protocol.EmulatorNotFoundError{ID: id}
	}
	if err != nil {
		return e, fmt.Errorf("emulator get %d: %w", id, err)
	}
	return e, nil
}

// ListEmulators returns emulators ordered by index.
func (s *Store) ListEmulators(ctx context.Context, enabledOnly bool) ([]protocol.Emulator, error) {
	q := `SELECT ` + emulatorColumns + ` FROM emulators`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("emulator list: %w", err)
	}
	defer rows.Close()

	var out []protocol.Emulator
	for rows.Next() {
		e, err := s.scanEmulator(rows)
		if err != nil {
			return nil, fmt.Errorf("emulator list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emulator list rows: %w", err)
	}
	return out, nil
}

// updateEmulator runs an UPDATE against a single emulator row and reports
// *protocol.EmulatorNotFoundError when nothing matched.
func (s *Store) updateEmulator(ctx context.Context, op string, id int, set string, args ...any) error {
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE emulators SET `+set+`, updated_at = datetime('now') WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("emulator %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("emulator %s rows: %w", op, err)
	}
	if n == 0 {
		return &protocol.EmulatorNotFoundError{ID: id}
	}
	return nil
}

// SetEnabled soft-enables or soft-disables an emulator.
func (s *Store) SetEnabled(ctx context.Context, id int, enabled bool) error {
	return s.updateEmulator(ctx, "set enabled", id, `enabled = ?`, boolInt(enabled))
}

// SetNote replaces the free-text note.
func (s *Store) SetNote(ctx context.Context, id int, note string) error {
	return s.updateEmulator(ctx, "set note", id, `note = ?`, note)
}

// SetLordLevel records a new lord level.
func (s *Store) SetLordLevel(ctx context.Context, id, level int) error {
	return s.updateEmulator(ctx, "set lord level", id, `lord_level = ?`, level)
}

// UpdatePriority writes back the cached priority score.
func (s *Store) UpdatePriority(ctx context.Context, id int, score float64) error {
	return s.updateEmulator(ctx, "update priority", id, `priority_score = ?`, score)
}

// SetNextCheck sets when the scheduler should next consider the emulator.
func (s *Store) SetNextCheck(ctx context.Context, id int, at time.Time) error {
	return s.updateEmulator(ctx, "set next check", id, `next_check = ?`, formatTime(at))
}

// SetWaitingForBonus flags the emulator as holding until the bonus window at target.
func (s *Store) SetWaitingForBonus(ctx context.Context, id int, target time.Time) error {
	return s.updateEmulator(ctx, "set bonus wait", id,
		`waiting_for_bonus = 1, bonus_target = ?`, formatTime(target))
}

// ClearWaitingForBonus drops the bonus-window hold.
func (s *Store) ClearWaitingForBonus(ctx context.Context, id int) error {
	return s.updateEmulator(ctx, "clear bonus wait", id,
		`waiting_for_bonus = 0, bonus_target = NULL`)
}

// MarkProcessed records the end of a processing pass.
func (s *Store) MarkProcessed(ctx context.Context, id int, at time.Time) error {
	return s.updateEmulator(ctx, "mark processed", id, `last_processed = ?`, formatTime(at))
}

// ResetSchedule clears derived scheduling state so the emulator is eligible on
// the next pass. id < 0 resets every emulator.
func (s *Store) ResetSchedule(ctx context.Context, id int) (int64, error) {
	q := `UPDATE emulators SET next_check = NULL, waiting_for_bonus = 0, bonus_target = NULL,
		priority_score = 0, updated_at = datetime('now')`
	var args []any
	if id >= 0 {
		q += ` WHERE id = ?`
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("reset schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset schedule rows: %w", err)
	}
	if id >= 0 && n == 0 {
		return 0, &protocol.EmulatorNotFoundError{ID: id}
	}
	return n, nil
}

// --- Events ---

// LogEvent appends an audit event. emulatorID < 0 stores NULL.
func (s *Store) LogEvent(ctx context.Context, eventType, source string, emulatorID int, payload string) error {
	var emu sql.NullInt64
	if emulatorID >= 0 {
		emu = sql.NullInt64{Int64: int64(emulatorID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, emulator_id, payload) VALUES (?, ?, ?, ?)`,
		eventType, source, emu, payload)
	if err != nil {
		return fmt.Errorf("log event %s: %w", eventType, err)
	}
	return nil
}
