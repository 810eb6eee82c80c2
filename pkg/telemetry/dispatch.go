package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"tcon/pkg/dispatch"
	"tcon/pkg/protocol"
)

// DispatchCollector bundles the host-side metrics. It implements
// dispatch.Observer.
type DispatchCollector struct {
	gatherer prometheus.Gatherer

	Commands         *prometheus.CounterVec
	Durations        *prometheus.HistogramVec
	RemovalsQueued   *prometheus.CounterVec
	Received         prometheus.Counter
	Dropped          *prometheus.CounterVec
	SchedulePending  prometheus.Gauge
	TransportBacklog prometheus.Gauge
}

var _ dispatch.Observer = (*DispatchCollector)(nil)

// NewDispatchCollector registers the host metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewDispatchCollector(reg prometheus.Registerer) (*DispatchCollector, error) {
	reg, gatherer := gathererFor(reg)

	commands, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "commands_total",
		Help:      "Commands executed by the host, labeled by kind and status.",
	}, []string{"kind", "status"}), "commands_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "command_duration_seconds",
		Help:      "Wall-clock time spent in the simulation call for each command.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"}), "command_duration_seconds")
	if err != nil {
		return nil, err
	}

	removals, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "removals_scheduled_total",
		Help:      "Follow-up removals queued after duration-bearing creations, labeled by kind.",
	}, []string{"kind"}), "removals_scheduled_total")
	if err != nil {
		return nil, err
	}

	received, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "transport_received_total",
		Help:      "Envelopes drained from the transport.",
	}), "transport_received_total")
	if err != nil {
		return nil, err
	}

	dropped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "transport_dropped_total",
		Help:      "Received commands not executed, labeled by reason.",
	}, []string{"reason"}), "transport_dropped_total")
	if err != nil {
		return nil, err
	}

	pending, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "schedule_pending",
		Help:      "Commands waiting in the schedule.",
	}), "schedule_pending")
	if err != nil {
		return nil, err
	}

	backlog, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "transport_backlog",
		Help:      "Envelopes received but not yet drained by the host.",
	}), "transport_backlog")
	if err != nil {
		return nil, err
	}

	return &DispatchCollector{
		gatherer:         gatherer,
		Commands:         commands,
		Durations:        durations,
		RemovalsQueued:   removals,
		Received:         received,
		Dropped:          dropped,
		SchedulePending:  pending,
		TransportBacklog: backlog,
	}, nil
}

// Dispatched counts one outcome.
func (c *DispatchCollector) Dispatched(_ context.Context, o dispatch.Outcome) {
	if c == nil {
		return
	}
	status := o.Status.String()
	if o.Skipped {
		status = "SKIPPED"
	}
	c.Commands.WithLabelValues(string(o.Command.Kind), status).Inc()
	if !o.Skipped {
		c.Durations.WithLabelValues(string(o.Command.Kind)).Observe(o.Elapsed.Seconds())
	}
}

// Scheduled counts one queued removal.
func (c *DispatchCollector) Scheduled(_ context.Context, followUp, _ protocol.Command) {
	if c == nil {
		return
	}
	c.RemovalsQueued.WithLabelValues(string(followUp.Kind)).Inc()
}

// ObserveDrain records one transport drain.
func (c *DispatchCollector) ObserveDrain(received, backlog int) {
	if c == nil {
		return
	}
	c.Received.Add(float64(received))
	c.TransportBacklog.Set(float64(backlog))
}

// ObserveDropped counts a received command that was not executed.
func (c *DispatchCollector) ObserveDropped(reason string) {
	if c == nil {
		return
	}
	c.Dropped.WithLabelValues(reason).Inc()
}

// SetPending records the schedule length.
func (c *DispatchCollector) SetPending(n int) {
	if c == nil {
		return
	}
	c.SchedulePending.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DispatchCollector) Handler() http.Handler { return handlerFor(c.gatherer) }
