package journal_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"tcon/pkg/dispatch"
	"tcon/pkg/journal"
	"tcon/pkg/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTemp(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	j, err := journal.Open(context.Background(), path, quietLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func openReader(t *testing.T, path string) *journal.Reader {
	t.Helper()
	r, err := journal.NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestJournal_RecordsOutcomesAndFollowUps(t *testing.T) {
	ctx := context.Background()
	j, path := openTemp(t)

	cmd := protocol.NewCommand(protocol.KindIncidentsClearSection, 120, protocol.IncidentsClearSection{SectionID: 4})
	j.Dispatched(ctx, dispatch.Outcome{Command: cmd, Now: 120, Status: protocol.StatusOK, Message: "applied"})

	failed := protocol.NewCommand(protocol.KindMeasureRemove, protocol.Immediate, protocol.MeasureRemove{IDAction: 9})
	j.Dispatched(ctx, dispatch.Outcome{
		Command: failed, Now: 130, Status: protocol.StatusInfUnknownID, Code: -5002,
		Message: "measure_remove returned -5002",
		Err:     &protocol.DomainError{Kind: protocol.KindMeasureRemove, Status: protocol.StatusInfUnknownID, Code: -5002},
	})

	removal := protocol.NewCommand(protocol.KindIncidentRemove, 360, protocol.IncidentRemove{SectionID: 4, Lane: 1, Position: 10})
	j.Scheduled(ctx, removal, cmd)
	j.Lifecycle(ctx, "host loaded")

	r := openReader(t, path)
	all, err := r.Query(ctx, journal.QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].Type != protocol.EventLifecycle || all[0].SimTime != nil || all[0].Code != nil {
		t.Fatalf("expected newest-first lifecycle event without time or code, got %+v", all[0])
	}

	sched, err := r.Query(ctx, journal.QueryOpts{Type: protocol.EventScheduled})
	if err != nil {
		t.Fatalf("query scheduled: %v", err)
	}
	if len(sched) != 1 || sched[0].SimTime == nil || *sched[0].SimTime != 360 || sched[0].CommandID != removal.ID {
		t.Fatalf("unexpected scheduled events %+v", sched)
	}

	failures, err := r.Query(ctx, journal.QueryOpts{FailuresOnly: true})
	if err != nil {
		t.Fatalf("query failures: %v", err)
	}
	if len(failures) != 1 || failures[0].Status != "INF_UNKNOWN_ID" || failures[0].Code == nil || *failures[0].Code != -5002 {
		t.Fatalf("unexpected failures %+v", failures)
	}
	if failures[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be parsed")
	}

	counts, err := r.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["OK"] != 1 || counts["INF_UNKNOWN_ID"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestJournal_SkippedAndDropped(t *testing.T) {
	ctx := context.Background()
	j, path := openTemp(t)

	cmd := protocol.NewCommand(protocol.KindIncidentsReset, protocol.Immediate, protocol.IncidentsReset{})
	j.Dispatched(ctx, dispatch.Outcome{Command: cmd, Skipped: true, Message: "no handler"})
	j.Dropped(ctx, cmd, "duplicate delivery")

	r := openReader(t, path)
	skipped, err := r.Query(ctx, journal.QueryOpts{Type: protocol.EventSkipped})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(skipped) != 1 || skipped[0].Code != nil {
		t.Fatalf("expected one skipped event without code, got %+v", skipped)
	}

	dropped, err := r.Query(ctx, journal.QueryOpts{Kind: string(protocol.KindIncidentsReset), Type: protocol.EventDropped})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Message != "duplicate delivery" || dropped[0].SimTime != nil {
		t.Fatalf("unexpected dropped events %+v", dropped)
	}
}

func TestReader_TailAndLimit(t *testing.T) {
	ctx := context.Background()
	j, path := openTemp(t)
	for range 5 {
		j.Lifecycle(ctx, "tick")
	}

	r := openReader(t, path)
	latest, err := r.Query(ctx, journal.QueryOpts{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(latest) != 2 || latest[0].ID <= latest[1].ID {
		t.Fatalf("expected the 2 newest events newest first, got %+v", latest)
	}

	newer, err := r.Query(ctx, journal.QueryOpts{AfterID: latest[1].ID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(newer) != 1 || newer[0].ID != latest[0].ID {
		t.Fatalf("expected only the newest event after id %d, got %+v", latest[1].ID, newer)
	}
}

func TestJournal_WritesAfterCloseAreIgnored(t *testing.T) {
	j, _ := openTemp(t)
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	j.Lifecycle(context.Background(), "late")
	if err := j.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewReader_MissingDatabase(t *testing.T) {
	_, err := journal.NewReader(filepath.Join(t.TempDir(), "missing.db"))
	if err == nil {
		t.Fatal("expected error for missing journal")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}
