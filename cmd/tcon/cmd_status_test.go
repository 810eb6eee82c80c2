package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"tcon/pkg/config"
	"tcon/pkg/dispatch"
	"tcon/pkg/journal"
	"tcon/pkg/protocol"
)

func statusConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	home := t.TempDir()
	cfg := config.Default(&config.Paths{
		Home:        home,
		PIDPath:     filepath.Join(home, "worker.pid"),
		JournalPath: filepath.Join(home, "journal.db"),
	})
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	cfg.API.Host = host
	cfg.API.Port, _ = strconv.Atoi(port)
	return cfg
}

func TestStatus_ReportsHealthAndJournal(t *testing.T) {
	_, addr := startAPI(t)
	cfg := statusConfig(t, addr)

	j, err := journal.Open(context.Background(), cfg.Journal.Path, nil)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	cmd := protocol.NewCommand(protocol.KindIncidentsReset, 5, nil)
	j.Dispatched(context.Background(), dispatch.Outcome{Command: cmd, Now: 5, Status: protocol.StatusOK})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runStatus(context.Background(), cfg, true, &out); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	got := out.String()
	for _, want := range []string{"worker process: stopped", "worker api: up", "journal: 1 dispatched", protocol.StatusOK.String()} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

func TestStatus_WorkerDownAndNoJournal(t *testing.T) {
	cfg := statusConfig(t, "127.0.0.1:1")

	var out bytes.Buffer
	if err := runStatus(context.Background(), cfg, true, &out); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !strings.Contains(out.String(), "worker api: down") || !strings.Contains(out.String(), "journal: none") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
