// Package journal records dispatch outcomes and host lifecycle events in an
// append-only SQLite log, and reads them back for tcon-dash and tcon status.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"tcon/pkg/dispatch"
	"tcon/pkg/protocol"
)

// Journal is the write side. It implements dispatch.Observer so the
// dispatcher journals every outcome and every scheduled removal. Write
// failures are logged and never interrupt dispatch.
type Journal struct {
	db  *sql.DB
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ dispatch.Observer = (*Journal)(nil)

// Open creates or opens the journal at path and applies the schema.
func Open(ctx context.Context, path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// openDB opens a SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; the host step thread is the only caller.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	return db, nil
}

// Dispatched journals one outcome.
func (j *Journal) Dispatched(ctx context.Context, o dispatch.Outcome) {
	typ := protocol.EventDispatched
	if o.Skipped {
		typ = protocol.EventSkipped
	}
	j.insert(ctx, entry{
		typ:       typ,
		kind:      string(o.Command.Kind),
		commandID: o.Command.ID,
		simTime:   simTime(o.Now),
		status:    o.Status.String(),
		code:      sql.NullInt64{Int64: int64(o.Code), Valid: !o.Skipped},
		message:   o.Message,
	})
}

// Scheduled journals a removal queued in response to cause.
func (j *Journal) Scheduled(ctx context.Context, followUp, cause protocol.Command) {
	j.insert(ctx, entry{
		typ:       protocol.EventScheduled,
		kind:      string(followUp.Kind),
		commandID: followUp.ID,
		simTime:   simTime(followUp.Time),
		message:   fmt.Sprintf("scheduled by %s %s", cause.Kind, cause.ID),
	})
}

// Dropped journals a received command that was not executed.
func (j *Journal) Dropped(ctx context.Context, cmd protocol.Command, reason string) {
	j.insert(ctx, entry{
		typ:       protocol.EventDropped,
		kind:      string(cmd.Kind),
		commandID: cmd.ID,
		simTime:   simTime(cmd.Time),
		message:   reason,
	})
}

// Lifecycle journals a host or worker lifecycle event.
func (j *Journal) Lifecycle(ctx context.Context, message string) {
	j.insert(ctx, entry{typ: protocol.EventLifecycle, message: message})
}

// Close releases the database. Safe to call multiple times.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

type entry struct {
	typ       string
	kind      string
	commandID string
	simTime   sql.NullFloat64
	status    string
	code      sql.NullInt64
	message   string
}

func (j *Journal) insert(ctx context.Context, e entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (type, kind, command_id, sim_time, status, code, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.typ, nullString(e.kind), nullString(e.commandID), e.simTime, nullString(e.status), e.code, e.message,
	)
	if err != nil {
		j.log.Warn("journal write failed", "type", e.typ, "command_id", e.commandID, "error", err)
	}
}

// simTime stores Immediate as NULL.
func simTime(t protocol.SimTime) sql.NullFloat64 {
	if t.IsImmediate() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: float64(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
