package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "worker.pid")
	if err := WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("second RemovePIDFile: %v", err)
	}
}

func TestWorkerStatus(t *testing.T) {
	dir := t.TempDir()

	status, pid, err := WorkerStatus(filepath.Join(dir, "missing.pid"))
	if err != nil || status != StatusStopped || pid != 0 {
		t.Fatalf("missing file: got %s %d %v", status, pid, err)
	}

	live := filepath.Join(dir, "live.pid")
	if err := WritePIDFile(live, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if status, _, _ := WorkerStatus(live); status != StatusRunning {
		t.Fatalf("expected running for own pid, got %s", status)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(garbage, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := WorkerStatus(garbage); err == nil {
		t.Fatal("expected error for unparseable PID file")
	}
}
