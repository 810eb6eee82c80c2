package host_test

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"slices"
	"testing"

	"tcon/pkg/dispatch"
	"tcon/pkg/host"
	"tcon/pkg/protocol"
	"tcon/pkg/schedule"
	"tcon/pkg/sim"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeInbox is an in-memory host.Inbox.
type fakeInbox struct {
	queue    []protocol.Envelope
	notified bool
	reads    int
}

func (f *fakeInbox) deliver(envs ...protocol.Envelope) {
	f.queue = append(f.queue, envs...)
	f.notified = true
}

func (f *fakeInbox) TryRecvAll() iter.Seq[protocol.Envelope] {
	f.reads++
	return func(yield func(protocol.Envelope) bool) {
		for len(f.queue) > 0 {
			env := f.queue[0]
			f.queue = f.queue[1:]
			if !yield(env) {
				return
			}
		}
	}
}

func (f *fakeInbox) Notified() bool { return f.notified }
func (f *fakeInbox) ClearNotify()   { f.notified = false }
func (f *fakeInbox) Pending() int   { return len(f.queue) }

type drop struct {
	id     string
	reason string
}

type recordingMonitor struct {
	drops []drop
	steps []host.StepStats
}

func (m *recordingMonitor) Dropped(_ context.Context, cmd protocol.Command, reason string) {
	m.drops = append(m.drops, drop{cmd.ID, reason})
}

func (m *recordingMonitor) Stepped(st host.StepStats) { m.steps = append(m.steps, st) }

type loopFixture struct {
	api   *sim.Recorder
	sched *schedule.Schedule
	inbox *fakeInbox
	mon   *recordingMonitor
	loop  *host.Loop
}

func newLoopFixture(t *testing.T, cfg host.LoopConfig) *loopFixture {
	t.Helper()
	api := sim.NewRecorder(quietLogger())
	reg, err := dispatch.Builtin(api, quietLogger())
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	f := &loopFixture{api: api, sched: schedule.New(), inbox: &fakeInbox{}, mon: &recordingMonitor{}}
	disp := dispatch.New(reg, f.sched, dispatch.Config{}, quietLogger())
	f.loop = host.NewLoop(f.sched, disp, f.inbox, cfg, quietLogger(), f.mon)
	return f
}

func policy(at protocol.SimTime, id int) protocol.Command {
	return protocol.NewCommand(protocol.KindPolicyActivate, at, protocol.PolicyActivate{PolicyID: id})
}

func incidentAt(at, iniTime protocol.SimTime, duration float64) protocol.Command {
	p := protocol.NewIncidentCreate()
	p.SectionID, p.Lane, p.Position, p.Length = 330, 1, 25, 10
	p.IniTime, p.Duration = iniTime, duration
	return protocol.NewCommand(protocol.KindIncidentCreate, at, p)
}

func activated(api *sim.Recorder) []int {
	var ids []int
	for _, c := range api.Calls() {
		if c.Method == "ActivatePolicy" {
			ids = append(ids, c.Args[0].(int))
		}
	}
	return ids
}

func TestStep_ScheduleRunsInTimeOrder(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.sched.Push(policy(300, 3))
	f.sched.Push(policy(50, 1))
	f.sched.Push(policy(150, 2))

	st := f.loop.Step(context.Background(), 200)
	if st.FromSchedule != 2 || st.Pending != 1 {
		t.Fatalf("expected 2 run and 1 pending, got %+v", st)
	}
	f.loop.Step(context.Background(), 300)
	if got := activated(f.api); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("expected activation order [1 2 3], got %v", got)
	}
}

func TestStep_ReceivedCommandsRunOrWait(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.inbox.deliver(
		protocol.NewEnvelope(policy(protocol.Immediate, 1)),
		protocol.NewEnvelope(policy(10, 2)),
		protocol.NewEnvelope(policy(500, 3)),
	)

	st := f.loop.Step(context.Background(), 10)
	if !st.Drained || st.Received != 3 || st.Executed != 2 || st.Deferred != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if f.inbox.Notified() {
		t.Fatal("expected notify cleared after drain")
	}
	if got := activated(f.api); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("expected [1 2] applied now, got %v", got)
	}

	f.loop.Step(context.Background(), 500)
	if got := activated(f.api); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("expected deferred command applied at 500, got %v", got)
	}
}

func TestStep_ScheduleBeforeTransport(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.sched.Push(policy(5, 1))
	f.inbox.deliver(protocol.NewEnvelope(policy(protocol.Immediate, 2)))

	f.loop.Step(context.Background(), 5)
	if got := activated(f.api); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("expected schedule entry first, got %v", got)
	}
}

func TestStep_DuplicateEnvelopeDropped(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	env := protocol.NewEnvelope(policy(protocol.Immediate, 4))
	f.inbox.deliver(env, env)

	st := f.loop.Step(context.Background(), 0)
	if st.Executed != 1 || st.Dropped != 1 {
		t.Fatalf("expected one run and one duplicate, got %+v", st)
	}
	if len(f.mon.drops) != 1 || f.mon.drops[0].reason != host.ReasonDuplicate || f.mon.drops[0].id != env.Command.ID {
		t.Fatalf("unexpected drops %+v", f.mon.drops)
	}
}

func TestStep_DedupeWindowForgetsOldIDs(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{DedupeWindow: 2})
	first := protocol.NewEnvelope(policy(protocol.Immediate, 1))
	f.inbox.deliver(first,
		protocol.NewEnvelope(policy(protocol.Immediate, 2)),
		protocol.NewEnvelope(policy(protocol.Immediate, 3)))
	f.loop.Step(context.Background(), 0)

	f.inbox.deliver(first)
	st := f.loop.Step(context.Background(), 1)
	if st.Executed != 1 || st.Dropped != 0 {
		t.Fatalf("expected forgotten id to run again, got %+v", st)
	}
}

func TestStep_InvalidCommandDropped(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	// Starts before it is scheduled: rejected on re-validation.
	bad := protocol.NewEnvelope(incidentAt(120, 100, 60))
	f.inbox.deliver(bad)

	st := f.loop.Step(context.Background(), 200)
	if st.Dropped != 1 || st.Executed != 0 {
		t.Fatalf("expected invalid command dropped, got %+v", st)
	}
	if f.mon.drops[0].reason != host.ReasonInvalid {
		t.Fatalf("expected reason %q, got %q", host.ReasonInvalid, f.mon.drops[0].reason)
	}
	if len(f.api.Calls()) != 0 {
		t.Fatalf("expected no simulation calls, got %v", f.api.Methods())
	}
}

func TestStep_DrainsOnlyWhenNotifiedOrPeriodic(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{DrainEvery: 3})
	// Queued without a notification, as if the signal were lost.
	f.inbox.queue = append(f.inbox.queue, protocol.NewEnvelope(policy(protocol.Immediate, 9)))

	for step := 1; step <= 2; step++ {
		if st := f.loop.Step(context.Background(), protocol.SimTime(step)); st.Drained {
			t.Fatalf("step %d: unexpected drain", step)
		}
	}
	st := f.loop.Step(context.Background(), 3)
	if !st.Drained || st.Executed != 1 {
		t.Fatalf("expected periodic drain on step 3, got %+v", st)
	}
	if f.inbox.reads != 1 {
		t.Fatalf("expected one transport read, got %d", f.inbox.reads)
	}
}

func TestStep_AutoRemovalRunsOnLaterStep(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.inbox.deliver(protocol.NewEnvelope(incidentAt(30, 60, 300)))

	f.loop.Step(context.Background(), 30)
	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Kind != protocol.KindIncidentRemove || pending[0].Time != 360 {
		t.Fatalf("expected removal at 360, got %v", pending)
	}

	f.loop.Step(context.Background(), 359)
	f.loop.Step(context.Background(), 360)
	if got := f.api.Methods(); !slices.Equal(got, []string{"GenerateIncident", "RemoveIncident"}) {
		t.Fatalf("unexpected calls %v", got)
	}
	if f.api.ActiveIncidents() != 0 {
		t.Fatalf("expected incident removed, %d active", f.api.ActiveIncidents())
	}
}

func TestStep_ReportsStatsToMonitors(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.inbox.deliver(protocol.NewEnvelope(policy(90, 1)))
	f.loop.Step(context.Background(), 0)

	if len(f.mon.steps) != 1 {
		t.Fatalf("expected one step report, got %d", len(f.mon.steps))
	}
	if st := f.mon.steps[0]; st.Received != 1 || st.Pending != 1 || st.Backlog != 0 {
		t.Fatalf("unexpected step report %+v", st)
	}
	if f.loop.Steps() != 1 {
		t.Fatalf("expected Steps 1, got %d", f.loop.Steps())
	}
}

func TestFinalDrain_ExecutesDueAndDropsLater(t *testing.T) {
	f := newLoopFixture(t, host.LoopConfig{})
	f.inbox.deliver(
		protocol.NewEnvelope(policy(protocol.Immediate, 1)),
		protocol.NewEnvelope(policy(900, 2)),
	)

	st := f.loop.FinalDrain(context.Background(), 100)
	if st.Executed != 1 || st.Dropped != 1 || st.Pending != 0 {
		t.Fatalf("unexpected final drain %+v", st)
	}
	if f.mon.drops[0].reason != host.ReasonShutdown {
		t.Fatalf("expected shutdown drop, got %+v", f.mon.drops)
	}
}

func TestStep_NilInbox(t *testing.T) {
	api := sim.NewRecorder(quietLogger())
	reg, err := dispatch.Builtin(api, quietLogger())
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	sched := schedule.New()
	sched.Push(policy(protocol.Immediate, 1))
	loop := host.NewLoop(sched, dispatch.New(reg, sched, dispatch.Config{}, quietLogger()), nil, host.LoopConfig{}, quietLogger())

	st := loop.Step(context.Background(), 0)
	if st.FromSchedule != 1 || st.Drained {
		t.Fatalf("unexpected stats %+v", st)
	}
}
