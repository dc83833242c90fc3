// Package eventlog provides read-only access to the audit events that the
// dispatcher and CLI write to the beastbot database.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const timeFormat = "2006-01-02 15:04:05"

// Event represents a single row of the events table.
type Event struct {
	ID     int64
	Type   string
	Source string
	// EmulatorID is -1 for events not tied to an emulator.
	EmulatorID int
	Payload    string
	CreatedAt  time.Time
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// EmulatorID filters to one emulator when non-nil.
	EmulatorID *int

	// EventType filters to a specific event type (e.g. "task_completed")
	EventType string

	// AfterID returns only events newer than this id; used to follow the log.
	AfterID int64

	// After filters events created after this time (inclusive)
	After *time.Time

	// Before filters events created before this time (inclusive)
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db    *sql.DB
	owned bool
}

// NewReader opens the database at dbPath read-only with WAL so a running
// dispatcher is never blocked. Returns an error if the file doesn't exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db, owned: true}, nil
}

// FromDB wraps an already open database. Close leaves db open.
func FromDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database connection if the Reader opened it.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil && r.owned {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// Query retrieves events matching opts, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			emu       sql.NullInt64
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &emu, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EmulatorID = -1
		if emu.Valid {
			e.EmulatorID = int(emu.Int64)
		}
		e.Payload = payload.String

		if createdAt != "" {
			parsed, err := time.ParseInLocation(timeFormat, createdAt, time.UTC)
			if err != nil {
				// Fallback: try with timezone format
				parsed, err = time.Parse(time.RFC3339, createdAt)
				if err != nil {
					return nil, fmt.Errorf("parse created_at: %w", err)
				}
			}
			e.CreatedAt = parsed
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, emulator_id, payload, created_at FROM events WHERE 1=1"

	if opts.EmulatorID != nil {
		conditions = append(conditions, "emulator_id = ?")
		args = append(args, *opts.EmulatorID)
	}

	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}

	if opts.AfterID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, opts.AfterID)
	}

	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(timeFormat))
	}

	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UTC().Format(timeFormat))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	// Order by newest first
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
