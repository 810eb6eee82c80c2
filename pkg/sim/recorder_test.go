package sim_test

import (
	"context"
	"testing"

	"tcon/pkg/protocol"
	"tcon/pkg/sim"
)

func TestRecorder_IncidentLifecycle(t *testing.T) {
	ctx := context.Background()
	r := sim.NewRecorder(nil)

	p := protocol.NewIncidentCreate()
	p.SectionID, p.Lane, p.Position = 10, 1, 25

	id, err := r.GenerateIncident(ctx, p)
	if err != nil || id <= 0 {
		t.Fatalf("expected positive id, got %d (%v)", id, err)
	}
	if r.ActiveIncidents() != 1 {
		t.Fatalf("expected 1 incident, got %d", r.ActiveIncidents())
	}

	code, _ := r.RemoveIncident(ctx, 10, 1, 25)
	if code != 0 {
		t.Fatalf("expected removal ok, got %d", code)
	}
	code, _ = r.RemoveIncident(ctx, 10, 1, 25)
	if protocol.StatusFromCode(code) != protocol.StatusIncidentNotPresent {
		t.Fatalf("expected INCIDENT_NOT_PRESENT on second removal, got %d", code)
	}
}

func TestRecorder_ActionIDs(t *testing.T) {
	ctx := context.Background()
	r := sim.NewRecorder(nil)

	first, _ := r.AddLaneClosure(ctx, 0, protocol.LaneClosure{SectionID: 1, LaneID: 1})
	pre, _ := r.AddLaneClosure(ctx, 40, protocol.LaneClosure{SectionID: 2, LaneID: 1})
	next, _ := r.AddLaneClosure(ctx, 0, protocol.LaneClosure{SectionID: 3, LaneID: 1})

	if first != 1 || pre != 40 || next != 41 {
		t.Fatalf("expected ids 1, 40, 41, got %d, %d, %d", first, pre, next)
	}
	if _, err := r.AddLaneClosure(ctx, 40, protocol.LaneClosure{}); err == nil {
		t.Fatal("expected duplicate preallocated id to fail")
	}
	if code, _ := r.RemoveAllActions(ctx); code != 0 || r.ActiveActions() != 0 {
		t.Fatalf("expected all actions cleared, code %d, active %d", code, r.ActiveActions())
	}
}

func TestRecorder_ScriptedCodes(t *testing.T) {
	ctx := context.Background()
	r := sim.NewRecorder(nil)
	r.Script("ResetAllIncidents", -5002)

	if code, _ := r.ResetAllIncidents(ctx); code != -5002 {
		t.Fatalf("expected scripted -5002, got %d", code)
	}
	if code, _ := r.ResetAllIncidents(ctx); code != 0 {
		t.Fatalf("expected normal behaviour after script drained, got %d", code)
	}
	if got := r.Methods(); len(got) != 2 {
		t.Fatalf("expected 2 recorded calls, got %v", got)
	}
}

func TestRecorder_PanicOn(t *testing.T) {
	r := sim.NewRecorder(nil)
	r.PanicOn("ActivatePolicy", "simulator crashed")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		// The lock must be released by the deferred unlock.
		if code, _ := r.ActivatePolicy(context.Background(), 1, 0); code != 0 {
			t.Fatalf("expected recovery call to succeed, got %d", code)
		}
	}()
	_, _ = r.ActivatePolicy(context.Background(), 1, 0)
}
