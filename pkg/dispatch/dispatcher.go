package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"tcon/pkg/protocol"
)

// ErrCallTimeout is reported when a handler outlives Config.CallTimeout.
var ErrCallTimeout = errors.New("simulation call timed out")

// Pusher accepts follow-up commands. *schedule.Schedule satisfies it.
type Pusher interface {
	Push(cmd protocol.Command)
}

// Observer is notified of every outcome and every follow-up the dispatcher
// schedules. The journal and metrics implement it.
type Observer interface {
	Dispatched(ctx context.Context, o Outcome)
	Scheduled(ctx context.Context, followUp, cause protocol.Command)
}

// Config holds dispatcher options.
type Config struct {
	// CallTimeout bounds each handler call. Zero runs handlers inline on the
	// caller's goroutine. A call that times out is abandoned, not cancelled:
	// the simulator cannot interrupt a call in progress.
	CallTimeout time.Duration
}

// Dispatcher executes commands against a Registry. It runs on the host step
// thread and is not safe for concurrent use.
type Dispatcher struct {
	reg       *Registry
	sched     Pusher
	cfg       Config
	log       *slog.Logger
	observers []Observer
}

// New creates a Dispatcher. sched receives the removals of duration-bearing
// creations.
func New(reg *Registry, sched Pusher, cfg Config, log *slog.Logger, observers ...Observer) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reg: reg, sched: sched, cfg: cfg, log: log, observers: observers}
}

// Execute runs cmd at step time now. It never panics and never returns an
// error: every failure is classified into the returned Outcome, logged, and
// reported to observers.
func (d *Dispatcher) Execute(ctx context.Context, cmd protocol.Command, now protocol.SimTime) Outcome {
	h, ok := d.reg.Lookup(cmd.Kind)
	if !ok {
		d.log.Warn("no handler registered for command kind", "kind", cmd.Kind, "id", cmd.ID)
		o := Outcome{Command: cmd, Now: now, Skipped: true, Status: protocol.StatusOK, Message: "no handler"}
		d.notify(ctx, o)
		return o
	}

	start := cmd.EffectiveStart(now)
	began := time.Now()
	code, err := d.invoke(ctx, h, cmd, start)
	o := classify(cmd, code, err)
	o.Now, o.Start, o.Elapsed = now, start, time.Since(began)

	if o.OK() {
		d.log.Info("command applied", "kind", cmd.Kind, "id", cmd.ID, "time", now, "value", o.Value)
		d.scheduleRemoval(ctx, cmd, o.Value, start)
	} else {
		d.log.Warn("command failed", "kind", cmd.Kind, "id", cmd.ID, "time", now,
			"status", o.Status, "code", o.Code, "error", o.Message)
	}
	d.notify(ctx, o)
	return o
}

// invoke calls h inside the failure boundary, bounded by CallTimeout.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, cmd protocol.Command, start protocol.SimTime) (int, error) {
	if d.cfg.CallTimeout <= 0 {
		return safeCall(ctx, h, cmd, start)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := safeCall(ctx, h, cmd, start)
		done <- result{code, err}
	}()

	select {
	case r := <-done:
		return r.code, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("%w after %s", ErrCallTimeout, d.cfg.CallTimeout)
	}
}

// safeCall converts a handler panic into an error.
func safeCall(ctx context.Context, h Handler, cmd protocol.Command, start protocol.SimTime) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.call(ctx, cmd, start)
}

// scheduleRemoval pushes the removal matching a successful duration-bearing
// creation at start+duration.
func (d *Dispatcher) scheduleRemoval(ctx context.Context, cmd protocol.Command, value int, start protocol.SimTime) {
	followUp, ok := RemovalFor(cmd, value, start)
	if !ok {
		if mc, isMeasure := cmd.Payload.(protocol.MeasureCreate); isMeasure {
			if _, has := mc.Lifetime(); has {
				d.log.Warn("measure has a duration but no action id; removal not scheduled", "id", cmd.ID, "value", value)
			}
		}
		return
	}
	d.sched.Push(followUp)
	d.log.Info("removal scheduled", "kind", followUp.Kind, "at", followUp.Time, "cause", cmd.ID)
	for _, obs := range d.observers {
		obs.Scheduled(ctx, followUp, cmd)
	}
}

// RemovalFor returns the command that undoes a successful creation when its
// payload carries a duration. value is what the simulation returned.
func RemovalFor(cmd protocol.Command, value int, start protocol.SimTime) (protocol.Command, bool) {
	lt, ok := cmd.Payload.(protocol.Lifetime)
	if !ok {
		return protocol.Command{}, false
	}
	duration, ok := lt.Lifetime()
	if !ok || duration <= 0 {
		return protocol.Command{}, false
	}
	endsAt := start + protocol.SimTime(duration)

	switch p := cmd.Payload.(type) {
	case protocol.IncidentCreate:
		return protocol.NewCommand(protocol.KindIncidentRemove, endsAt, protocol.IncidentRemove{
			SectionID: p.SectionID,
			Lane:      p.Lane,
			Position:  p.Position,
		}), true
	case protocol.MeasureCreate:
		id, pre := p.Measure.Base().PreallocatedID()
		if !pre {
			id = value
		}
		if id <= 0 {
			return protocol.Command{}, false
		}
		return protocol.NewCommand(protocol.KindMeasureRemove, endsAt, protocol.MeasureRemove{IDAction: id}), true
	case protocol.PolicyActivate:
		return protocol.NewCommand(protocol.KindPolicyDeactivate, endsAt, protocol.PolicyDeactivate{PolicyID: p.PolicyID}), true
	default:
		return protocol.Command{}, false
	}
}

func (d *Dispatcher) notify(ctx context.Context, o Outcome) {
	for _, obs := range d.observers {
		obs.Dispatched(ctx, o)
	}
}
