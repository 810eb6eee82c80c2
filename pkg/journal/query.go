package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tcon/pkg/protocol"
)

// Event is one journal row.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Kind      string `json:"kind,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	// SimTime is nil for immediate commands and lifecycle events.
	SimTime   *float64  `json:"sim_time,omitempty"`
	Status    string    `json:"status,omitempty"`
	Code      *int      `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// Type filters to one event type (e.g., "dispatched", "scheduled").
	Type string

	// Kind filters to one command kind.
	Kind string

	// Status filters to one status name (e.g., "OK", "INCIDENT_NOT_PRESENT").
	Status string

	// FailuresOnly keeps dispatched events whose status is not OK.
	FailuresOnly bool

	// AfterID returns only events newer than this id (for tailing).
	AfterID int64

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the journal.
type Reader struct {
	db *sql.DB
}

// NewReader opens the journal in read-only mode with WAL so readers never
// block the host. Returns an error if the database doesn't exist.
func NewReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Query returns matching events, newest first. Returns an empty slice if
// nothing matches.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e         Event
			kind, id  sql.NullString
			status    sql.NullString
			simTime   sql.NullFloat64
			code      sql.NullInt64
			message   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Type, &kind, &id, &simTime, &status, &code, &message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind, e.CommandID, e.Status, e.Message = kind.String, id.String, status.String, message.String
		if simTime.Valid {
			v := simTime.Float64
			e.SimTime = &v
		}
		if code.Valid {
			v := int(code.Int64)
			e.Code = &v
		}
		if e.CreatedAt, err = parseCreatedAt(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Counts returns the number of dispatched events per status name.
func (r *Reader) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM events WHERE type = ? GROUP BY status`, protocol.EventDispatched)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status sql.NullString
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status.String] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// parseCreatedAt parses SQLite's datetime('now') format, falling back to RFC3339.
func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateTime, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, kind, command_id, sim_time, status, code, message, created_at FROM events WHERE 1=1"

	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.FailuresOnly {
		conditions = append(conditions, "type = ? AND status <> ?")
		args = append(args, protocol.EventDispatched, protocol.StatusOK.String())
	}
	if opts.AfterID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, opts.AfterID)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}

// DefaultPath returns the default journal location, ~/.tcon/journal.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, protocol.TconDir, "journal.db")
}
