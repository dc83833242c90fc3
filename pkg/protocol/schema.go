package protocol

// SchemaDDL defines the SQLite schema for the beastbot progress store.
// Tables: emulators, building_progress, research_progress, lord_requirements,
// bonus_windows, sessions, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per emulator instance, keyed by the console index
CREATE TABLE IF NOT EXISTS emulators (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    note TEXT NOT NULL DEFAULT '',
    lord_level INTEGER NOT NULL DEFAULT 1,
    last_processed TEXT,
    next_check TEXT,
    priority_score REAL NOT NULL DEFAULT 0,
    waiting_for_bonus INTEGER NOT NULL DEFAULT 0,
    bonus_target TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Per-emulator building levels; started_at is set while under construction
CREATE TABLE IF NOT EXISTS building_progress (
    emulator_id INTEGER NOT NULL REFERENCES emulators(id),
    name TEXT NOT NULL,
    current_level INTEGER NOT NULL DEFAULT 0,
    target_level INTEGER NOT NULL DEFAULT 0,
    speedup_enabled INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    estimated_completion TEXT,
    PRIMARY KEY (emulator_id, name)
);

-- Per-emulator research levels; at most one row in progress per emulator
CREATE TABLE IF NOT EXISTS research_progress (
    emulator_id INTEGER NOT NULL REFERENCES emulators(id),
    name TEXT NOT NULL,
    branch TEXT NOT NULL DEFAULT '',
    current_level INTEGER NOT NULL DEFAULT 0,
    target_level INTEGER NOT NULL DEFAULT 0,
    speedup_enabled INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    estimated_completion TEXT,
    PRIMARY KEY (emulator_id, name)
);

-- Static reference data: what each lord level requires
CREATE TABLE IF NOT EXISTS lord_requirements (
    lord_level INTEGER NOT NULL,
    item_name TEXT NOT NULL,
    required_level INTEGER NOT NULL,
    category TEXT NOT NULL CHECK (category IN ('building', 'research')),
    PRIMARY KEY (lord_level, item_name, category)
);

-- Static weekly bonus schedule (day_of_week: 0 = Sunday)
CREATE TABLE IF NOT EXISTS bonus_windows (
    id INTEGER PRIMARY KEY,
    day_of_week INTEGER NOT NULL,
    hour INTEGER NOT NULL,
    minute INTEGER NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

-- Append-only log of processing attempts, used for reporting only
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    emulator_id INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    success INTEGER NOT NULL DEFAULT 0,
    actions INTEGER NOT NULL DEFAULT 0,
    buildings_started INTEGER NOT NULL DEFAULT 0,
    research_started INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

-- Lifecycle/audit events written by the dispatcher and CLI
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    emulator_id INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_emulator ON sessions(emulator_id, started_at);
CREATE INDEX IF NOT EXISTS idx_events_emulator ON events(emulator_id, created_at);
`

// MigrateResearchBranch adds the branch column to research_progress tables
// created before research branches were tracked.
const MigrateResearchBranch = `ALTER TABLE research_progress ADD COLUMN branch TEXT NOT NULL DEFAULT '';`
