package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const mixedSchedule = `[
  {"command": "policy_activate", "time": 10, "payload": {"policy_id": 4}},
  {"command": "policy_activate", "time": 20, "payload": {"policy_id": 0}}
]`

func TestValidate_ReportsRejectedEntries(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.json", mixedSchedule)

	var out bytes.Buffer
	if err := runValidate(&out, []string{path}, false); err != nil {
		t.Fatalf("non-strict validate: %v", err)
	}
	if !strings.Contains(out.String(), "1 accepted, 1 rejected") {
		t.Fatalf("unexpected summary:\n%s", out.String())
	}
	if !strings.Contains(out.String(), ":1.payload.policy_id -> ") {
		t.Fatalf("expected a diagnostic for entry 1, got:\n%s", out.String())
	}
}

func TestValidate_StrictFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.json", mixedSchedule)
	var out bytes.Buffer
	if err := runValidate(&out, []string{path}, true); err == nil {
		t.Fatal("expected strict validate to fail")
	}
}

func TestValidate_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", `
- command: incidents_reset
- command: policy_deactivate
  time: 30
  payload:
    policy_id: 2
`)
	var out bytes.Buffer
	if err := runValidate(&out, []string{path}, true); err != nil {
		t.Fatalf("validate: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "2 accepted, 0 rejected") {
		t.Fatalf("unexpected summary:\n%s", out.String())
	}
}

func TestLoadScheduleFile_Strict(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.json", mixedSchedule)
	if _, _, err := loadScheduleFile(path, true); err == nil {
		t.Fatal("expected strict load to fail")
	}
	cmds, diags, err := loadScheduleFile(path, false)
	if err != nil || len(cmds) != 1 || len(diags) != 1 {
		t.Fatalf("lenient load: %d cmds, %d diags, %v", len(cmds), len(diags), err)
	}
}
