package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tcon/pkg/journal"
)

// fetchTimeout bounds one journal read.
const fetchTimeout = 3 * time.Second

// snapshotMsg carries one read of the journal. err is set when the journal
// could not be read; events and counts are then empty.
type snapshotMsg struct {
	events []journal.Event
	counts map[string]int
	at     time.Time
	err    error
}

// fetchSnapshot reads the newest events matching opts and the per-status
// dispatch counts.
func fetchSnapshot(ctx context.Context, path string, opts journal.QueryOpts) snapshotMsg {
	r, err := journal.NewReader(path)
	if err != nil {
		return snapshotMsg{at: time.Now(), err: err}
	}
	defer func() { _ = r.Close() }()

	events, err := r.Query(ctx, opts)
	if err != nil {
		return snapshotMsg{at: time.Now(), err: err}
	}
	counts, err := r.Counts(ctx)
	if err != nil {
		return snapshotMsg{at: time.Now(), err: err}
	}
	return snapshotMsg{events: events, counts: counts, at: time.Now()}
}

// fetchCmd returns a tea.Cmd that reads the journal in the background.
func fetchCmd(path string, opts journal.QueryOpts) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		return fetchSnapshot(ctx, path, opts)
	}
}
