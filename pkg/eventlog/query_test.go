package eventlog_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"beastbot/pkg/eventlog"
	"beastbot/pkg/protocol"

	_ "modernc.org/sqlite"
)

// setupTestDB creates a test database with some sample events
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	events := []struct {
		evType   string
		source   string
		emulator any
		payload  any
	}{
		{protocol.EventScan, "cli", nil, `{"found":3}`},
		{protocol.EventTaskStarted, "dispatcher", 1, `{"priority":70}`},
		{protocol.EventActionStarted, "worker", 1, `{"kind":"BUILDING","name":"Den"}`},
		{protocol.EventTaskStarted, "dispatcher", 2, nil},
		{protocol.EventTaskCompleted, "dispatcher", 1, ""},
		{protocol.EventTaskFailed, "dispatcher", 2, `{"error":"boot"}`},
	}

	for _, e := range events {
		_, err := db.Exec(
			`INSERT INTO events (type, source, emulator_id, payload) VALUES (?, ?, ?, ?)`,
			e.evType, e.source, e.emulator, e.payload,
		)
		if err != nil {
			t.Fatalf("failed to insert test event: %v", err)
		}
	}

	return db, dbPath
}

func openReader(t *testing.T) *eventlog.Reader {
	t.Helper()
	_, dbPath := setupTestDB(t)
	reader, err := eventlog.NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	t.Cleanup(func() { _ = reader.Close() })
	return reader
}

func intPtr(i int) *int { return &i }

func TestNewReader_MissingDB(t *testing.T) {
	reader, err := eventlog.NewReader("/nonexistent/path.db")
	if err == nil {
		_ = reader.Close()
		t.Fatal("expected error for missing database")
	}
}

func TestQuery_AllEventsNewestFirst(t *testing.T) {
	reader := openReader(t)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[0].Type != protocol.EventTaskFailed || events[5].Type != protocol.EventScan {
		t.Errorf("expected newest first, got %s ... %s", events[0].Type, events[5].Type)
	}
	if events[5].EmulatorID != -1 {
		t.Errorf("scan event should have no emulator, got %d", events[5].EmulatorID)
	}
	if events[2].Payload != "" {
		t.Errorf("NULL payload should read as empty, got %q", events[2].Payload)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("expected created_at to be parsed")
	}
}

func TestQuery_FilterByEmulator(t *testing.T) {
	reader := openReader(t)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{EmulatorID: intPtr(1)})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events for emulator 1, got %d", len(events))
	}
	for _, e := range events {
		if e.EmulatorID != 1 {
			t.Errorf("expected emulator 1, got %d", e.EmulatorID)
		}
	}
}

func TestQuery_FilterByEventType(t *testing.T) {
	reader := openReader(t)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{EventType: protocol.EventTaskStarted})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 task_started events, got %d", len(events))
	}

	events, err = reader.Query(context.Background(), eventlog.QueryOpts{
		EmulatorID: intPtr(2),
		EventType:  protocol.EventTaskFailed,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 || events[0].Payload != `{"error":"boot"}` {
		t.Errorf("expected the failed task for emulator 2, got %+v", events)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	reader := openReader(t)
	ctx := context.Background()

	now := time.Now()
	after := now.Add(-time.Minute)
	events, err := reader.Query(ctx, eventlog.QueryOpts{After: &after})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 6 {
		t.Errorf("expected 6 recent events, got %d", len(events))
	}

	before := now.Add(-time.Hour)
	events, err = reader.Query(ctx, eventlog.QueryOpts{Before: &before})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 old events, got %d", len(events))
	}
}

func TestQuery_Limit(t *testing.T) {
	reader := openReader(t)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestQuery_EmptyResult(t *testing.T) {
	reader := openReader(t)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{EmulatorID: intPtr(99)})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestFromDB_CloseLeavesDBOpen(t *testing.T) {
	db, _ := setupTestDB(t)
	reader := eventlog.FromDB(db)
	if err := reader.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Errorf("shared db closed by reader: %v", err)
	}
	events, err := reader.Query(context.Background(), eventlog.QueryOpts{Limit: 1})
	if err != nil || len(events) != 1 {
		t.Errorf("query after close = %v, %v", events, err)
	}
}

func TestQuery_AfterID(t *testing.T) {
	reader := openReader(t)

	all, err := reader.Query(context.Background(), eventlog.QueryOpts{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	cursor := all[2].ID
	newer, err := reader.Query(context.Background(), eventlog.QueryOpts{AfterID: cursor})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(newer) != 2 {
		t.Fatalf("expected 2 events after id %d, got %d", cursor, len(newer))
	}
	for _, e := range newer {
		if e.ID <= cursor {
			t.Errorf("event %d is not after cursor %d", e.ID, cursor)
		}
	}
}
