package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"tcon/pkg/dispatch"
	"tcon/pkg/protocol"
	"tcon/pkg/schedule"
	"tcon/pkg/sim"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingObserver struct {
	outcomes  []dispatch.Outcome
	followUps []protocol.Command
}

func (r *recordingObserver) Dispatched(_ context.Context, o dispatch.Outcome) {
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) Scheduled(_ context.Context, followUp, _ protocol.Command) {
	r.followUps = append(r.followUps, followUp)
}

type fixture struct {
	api   *sim.Recorder
	sched *schedule.Schedule
	obs   *recordingObserver
	d     *dispatch.Dispatcher
}

func newFixture(t *testing.T, cfg dispatch.Config) *fixture {
	t.Helper()
	api := sim.NewRecorder(quietLogger())
	reg, err := dispatch.Builtin(api, quietLogger())
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	f := &fixture{api: api, sched: schedule.New(), obs: &recordingObserver{}}
	f.d = dispatch.New(reg, f.sched, cfg, quietLogger(), f.obs)
	return f
}

func incident(iniTime protocol.SimTime, duration float64) protocol.Command {
	p := protocol.NewIncidentCreate()
	p.SectionID, p.Lane, p.Position, p.Length = 330, 1, 25, 10
	p.IniTime, p.Duration = iniTime, duration
	return protocol.NewCommand(protocol.KindIncidentCreate, 30, p)
}

func TestExecute_IncidentSchedulesRemoval(t *testing.T) {
	f := newFixture(t, dispatch.Config{})

	o := f.d.Execute(context.Background(), incident(60, 300), 30)
	if !o.OK() {
		t.Fatalf("expected success, got %+v", o)
	}
	if o.Start != 60 {
		t.Errorf("expected effective start 60, got %v", o.Start)
	}
	if f.sched.Len() != 1 {
		t.Fatalf("expected exactly one removal scheduled, got %d", f.sched.Len())
	}
	if got := f.sched.PeekTime(); got != 360 {
		t.Fatalf("expected removal at 360, got %v", got)
	}
	removal := f.sched.Pending()[0]
	if removal.Kind != protocol.KindIncidentRemove {
		t.Fatalf("expected incident_remove, got %s", removal.Kind)
	}
	want := protocol.IncidentRemove{SectionID: 330, Lane: 1, Position: 25}
	if removal.Payload.(protocol.IncidentRemove) != want {
		t.Errorf("expected %+v, got %+v", want, removal.Payload)
	}
	if len(f.obs.followUps) != 1 {
		t.Errorf("expected observer to see the follow-up, got %d", len(f.obs.followUps))
	}
}

func TestExecute_FailedCreationSchedulesNothing(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	f.api.Script("GenerateIncident", int(protocol.StatusIncidentUnknownSection))

	o := f.d.Execute(context.Background(), incident(60, 300), 30)
	if o.OK() {
		t.Fatal("expected failure")
	}
	if o.Status != protocol.StatusIncidentUnknownSection {
		t.Errorf("expected INCIDENT_UNKNOWN_SECTION, got %s", o.Status)
	}
	var de *protocol.DomainError
	if !errors.As(o.Err, &de) || de.Code != -8004 {
		t.Errorf("expected DomainError with code -8004, got %v", o.Err)
	}
	if !f.sched.Empty() {
		t.Errorf("expected no removal after failure, got %d", f.sched.Len())
	}
}

func TestExecute_MeasureRemovalUsesReturnedID(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	duration := 120.0
	cmd := protocol.NewCommand(protocol.KindMeasureCreate, 100, protocol.MeasureCreate{
		Measure: protocol.LaneClosure{MeasureBase: protocol.MeasureBase{Duration: &duration}, SectionID: 5, LaneID: 2},
	})

	o := f.d.Execute(context.Background(), cmd, 100)
	if !o.OK() || o.Value <= 0 {
		t.Fatalf("expected success with an action id, got %+v", o)
	}
	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Time != 220 {
		t.Fatalf("expected one removal at 220, got %v", pending)
	}
	if id := pending[0].Payload.(protocol.MeasureRemove).IDAction; id != o.Value {
		t.Errorf("expected removal of action %d, got %d", o.Value, id)
	}
}

func TestExecute_MeasureRemovalPrefersPreallocatedID(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	duration, id := 60.0, 77
	cmd := protocol.NewCommand(protocol.KindMeasureCreate, 0, protocol.MeasureCreate{
		Measure: protocol.SpeedSection{
			MeasureBase: protocol.MeasureBase{IDAction: &id, Duration: &duration},
			SectionIDs:  []int{1},
			Speed:       40,
			Compliance:  1,
		},
	})
	f.d.Execute(context.Background(), cmd, 10)

	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Payload.(protocol.MeasureRemove).IDAction != 77 {
		t.Fatalf("expected removal of preallocated action 77, got %v", pending)
	}
}

func TestExecute_PolicyDurationSchedulesDeactivation(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	duration := 900.0
	cmd := protocol.NewCommand(protocol.KindPolicyActivate, protocol.Immediate, protocol.PolicyActivate{PolicyID: 4, Duration: &duration})

	f.d.Execute(context.Background(), cmd, 3600)

	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Kind != protocol.KindPolicyDeactivate || pending[0].Time != 4500 {
		t.Fatalf("expected policy_deactivate at 4500, got %v", pending)
	}
}

func TestExecute_FailureIsolation(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	f.api.Script("RemoveAllIncidentsInSection", -9)

	a := protocol.NewCommand(protocol.KindIncidentsClearSection, 10, protocol.IncidentsClearSection{SectionID: 1})
	b := protocol.NewCommand(protocol.KindIncidentsReset, 10, protocol.IncidentsReset{})

	first := f.d.Execute(context.Background(), a, 10)
	second := f.d.Execute(context.Background(), b, 10)

	if first.OK() || first.Status != protocol.StatusUnknownError {
		t.Errorf("expected A to fail as UNKNOWN_ERROR, got %+v", first)
	}
	if !second.OK() {
		t.Errorf("expected B to succeed, got %+v", second)
	}
	if got := f.api.Methods(); !slices.Equal(got, []string{"RemoveAllIncidentsInSection", "ResetAllIncidents"}) {
		t.Errorf("expected both calls to reach the simulation, got %v", got)
	}
	if len(f.obs.outcomes) != 2 {
		t.Errorf("expected 2 outcomes observed, got %d", len(f.obs.outcomes))
	}
}

func TestExecute_PanicIsContained(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	f.api.PanicOn("ResetAllIncidents", "segfault in plugin")

	o := f.d.Execute(context.Background(), protocol.NewCommand(protocol.KindIncidentsReset, 0, protocol.IncidentsReset{}), 0)
	if o.OK() || o.Status != protocol.StatusAPIFailure {
		t.Fatalf("expected API_FAILURE, got %+v", o)
	}
	if !strings.Contains(o.Message, "segfault in plugin") {
		t.Errorf("expected panic value in message, got %q", o.Message)
	}
}

func TestExecute_UnknownKindIsSkipped(t *testing.T) {
	api := sim.NewRecorder(quietLogger())
	reg := dispatch.NewRegistry(quietLogger())
	obs := &recordingObserver{}
	d := dispatch.New(reg, schedule.New(), dispatch.Config{}, quietLogger(), obs)

	o := d.Execute(context.Background(), protocol.NewCommand(protocol.KindIncidentsReset, 0, protocol.IncidentsReset{}), 0)
	if !o.Skipped {
		t.Fatalf("expected skipped outcome, got %+v", o)
	}
	if len(api.Calls()) != 0 {
		t.Errorf("expected no simulation calls, got %v", api.Methods())
	}
	if len(obs.outcomes) != 1 || !obs.outcomes[0].Skipped {
		t.Errorf("expected skipped outcome to be observed")
	}
}

func TestExecute_CallTimeout(t *testing.T) {
	reg := dispatch.NewRegistry(quietLogger())
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	err := reg.Register(protocol.KindIncidentsReset, dispatch.NoArgHandler(func(context.Context) (int, error) {
		<-release
		return 0, nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := dispatch.New(reg, schedule.New(), dispatch.Config{CallTimeout: 20 * time.Millisecond}, quietLogger())

	o := d.Execute(context.Background(), protocol.NewCommand(protocol.KindIncidentsReset, 0, protocol.IncidentsReset{}), 0)
	if o.OK() {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(o.Message, dispatch.ErrCallTimeout.Error()) {
		t.Errorf("expected timeout message, got %q", o.Message)
	}
}

func TestExecute_TimedHandlerReceivesEffectiveStart(t *testing.T) {
	reg := dispatch.NewRegistry(quietLogger())
	var got protocol.SimTime
	_ = reg.Register(protocol.KindPolicyActivate, dispatch.TimedHandler(func(_ context.Context, _ protocol.Payload, start protocol.SimTime) (int, error) {
		got = start
		return 0, nil
	}))
	d := dispatch.New(reg, schedule.New(), dispatch.Config{}, quietLogger())

	d.Execute(context.Background(), protocol.NewCommand(protocol.KindPolicyActivate, protocol.Immediate, protocol.PolicyActivate{PolicyID: 1}), 1234)
	if got != 1234 {
		t.Errorf("expected start 1234 from step clock, got %v", got)
	}
}
