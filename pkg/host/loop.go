// Package host drives command execution from the simulator's step callbacks.
//
// Loop is the per-step integration: due schedule entries first, then
// whatever the worker delivered over the transport. Plugin owns the whole
// host-side lifecycle around it.
package host

import (
	"context"
	"iter"
	"log/slog"

	"tcon/pkg/dispatch"
	"tcon/pkg/protocol"
	"tcon/pkg/schedule"
)

// Reasons a received command is not executed.
const (
	ReasonDuplicate = "duplicate"
	ReasonInvalid   = "invalid"
	ReasonShutdown  = "shutdown"
)

// Defaults for LoopConfig.
const (
	DefaultDrainEvery   = 20
	DefaultDedupeWindow = 4096
)

// Inbox is the host end of the transport. *transport.Server satisfies it.
type Inbox interface {
	TryRecvAll() iter.Seq[protocol.Envelope]
	Notified() bool
	ClearNotify()
	Pending() int
}

// Monitor is told about every received command the loop refuses.
// *journal.Journal satisfies it.
type Monitor interface {
	Dropped(ctx context.Context, cmd protocol.Command, reason string)
}

// StepMonitor is implemented by monitors that also track each step.
type StepMonitor interface {
	Stepped(st StepStats)
}

// LoopConfig holds Loop options.
type LoopConfig struct {
	// DrainEvery forces a transport drain every N steps even when no
	// arrival was signalled.
	DrainEvery int
	// DedupeWindow is how many recent command IDs are remembered.
	DedupeWindow int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.DrainEvery < 1 {
		c.DrainEvery = DefaultDrainEvery
	}
	if c.DedupeWindow < 1 {
		c.DedupeWindow = DefaultDedupeWindow
	}
	return c
}

// StepStats summarizes one Step.
type StepStats struct {
	Time protocol.SimTime
	// FromSchedule counts due schedule entries executed.
	FromSchedule int
	// Drained reports whether the transport was read this step.
	Drained bool
	// Received counts envelopes taken from the transport.
	Received int
	// Executed counts received commands run immediately.
	Executed int
	// Deferred counts received commands pushed into the schedule.
	Deferred int
	Dropped  int
	// Pending is the schedule length after the step.
	Pending int
	// Backlog is what the transport still holds after the step.
	Backlog int
}

// Loop runs on the simulator's step thread and is not safe for concurrent use.
type Loop struct {
	sched    *schedule.Schedule
	disp     *dispatch.Dispatcher
	inbox    Inbox
	cfg      LoopConfig
	log      *slog.Logger
	monitors []Monitor

	seen  *recentIDs
	steps int
}

// NewLoop creates a Loop. inbox may be nil when no worker feeds the host.
func NewLoop(sched *schedule.Schedule, disp *dispatch.Dispatcher, inbox Inbox, cfg LoopConfig, log *slog.Logger, monitors ...Monitor) *Loop {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Loop{
		sched:    sched,
		disp:     disp,
		inbox:    inbox,
		cfg:      cfg,
		log:      log,
		monitors: monitors,
		seen:     newRecentIDs(cfg.DedupeWindow),
	}
}

// Step executes everything due at t. Schedule entries run first, in
// schedule order; then, when the transport signalled an arrival or the
// periodic drain is due, received commands run if due and are scheduled
// otherwise. Removals queued during the step wait for a later one.
func (l *Loop) Step(ctx context.Context, t protocol.SimTime) StepStats {
	st := StepStats{Time: t}
	for cmd := range l.sched.Ready(t) {
		l.disp.Execute(ctx, cmd, t)
		st.FromSchedule++
	}

	l.steps++
	if l.inbox != nil && (l.inbox.Notified() || l.steps%l.cfg.DrainEvery == 0) {
		// Cleared before reading so an arrival during the drain sets it again.
		l.inbox.ClearNotify()
		st.Drained = true
		for env := range l.inbox.TryRecvAll() {
			st.Received++
			l.accept(ctx, env, t, false, &st)
		}
	}

	l.finish(&st)
	return st
}

// FinalDrain reads the transport once more at shutdown. Due commands are
// executed; anything later can no longer run and is dropped with a log, as
// is whatever remains in the schedule.
func (l *Loop) FinalDrain(ctx context.Context, t protocol.SimTime) StepStats {
	st := StepStats{Time: t}
	if l.inbox != nil {
		l.inbox.ClearNotify()
		st.Drained = true
		for env := range l.inbox.TryRecvAll() {
			st.Received++
			l.accept(ctx, env, t, true, &st)
		}
	}
	if n := l.sched.Len(); n > 0 {
		l.log.Warn("discarding scheduled commands at shutdown", "count", n, "next", l.sched.PeekTime())
	}
	l.finish(&st)
	return st
}

// Steps returns how many times Step has run.
func (l *Loop) Steps() int { return l.steps }

func (l *Loop) accept(ctx context.Context, env protocol.Envelope, t protocol.SimTime, final bool, st *StepStats) {
	cmd := env.Command
	if !l.seen.add(cmd.ID) {
		l.log.Debug("dropping duplicate command", "id", cmd.ID, "kind", cmd.Kind)
		l.drop(ctx, cmd, ReasonDuplicate, st)
		return
	}
	if err := cmd.Validate(); err != nil {
		l.log.Warn("dropping invalid command", "id", cmd.ID, "kind", cmd.Kind, "error", err)
		l.drop(ctx, cmd, ReasonInvalid, st)
		return
	}

	switch {
	case cmd.Time.DueAt(t):
		l.disp.Execute(ctx, cmd, t)
		st.Executed++
	case final:
		l.log.Warn("dropping command received at shutdown", "id", cmd.ID, "kind", cmd.Kind, "time", cmd.Time)
		l.drop(ctx, cmd, ReasonShutdown, st)
	default:
		l.sched.Push(cmd)
		st.Deferred++
		l.log.Debug("command scheduled", "id", cmd.ID, "kind", cmd.Kind, "time", cmd.Time)
	}
}

func (l *Loop) drop(ctx context.Context, cmd protocol.Command, reason string, st *StepStats) {
	st.Dropped++
	for _, m := range l.monitors {
		m.Dropped(ctx, cmd, reason)
	}
}

func (l *Loop) finish(st *StepStats) {
	st.Pending = l.sched.Len()
	if l.inbox != nil {
		st.Backlog = l.inbox.Pending()
	}
	for _, m := range l.monitors {
		if sm, ok := m.(StepMonitor); ok {
			sm.Stepped(*st)
		}
	}
}
