package protocol

// SchemaDDL defines the SQLite schema of the command journal.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Dispatch outcomes and lifecycle events, newest last
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    kind TEXT,
    command_id TEXT,
    sim_time REAL,
    status TEXT,
    code INTEGER,
    message TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_command ON events(command_id);
`

// Journal event types.
const (
	EventDispatched = "dispatched" // a command ran, successfully or not
	EventSkipped    = "skipped"    // no handler for the command's kind
	EventScheduled  = "scheduled"  // a follow-up removal was queued
	EventDropped    = "dropped"    // a received command was rejected or duplicated
	EventLifecycle  = "lifecycle"  // host load/unload, worker start/stop
)
