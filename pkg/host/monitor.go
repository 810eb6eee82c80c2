package host

import (
	"context"

	"tcon/pkg/protocol"
	"tcon/pkg/telemetry"
)

// metricsMonitor feeds loop activity into the dispatch collector.
type metricsMonitor struct {
	c *telemetry.DispatchCollector
}

func (m metricsMonitor) Dropped(_ context.Context, _ protocol.Command, reason string) {
	m.c.ObserveDropped(reason)
}

func (m metricsMonitor) Stepped(st StepStats) {
	if st.Drained {
		m.c.ObserveDrain(st.Received, st.Backlog)
	}
	m.c.SetPending(st.Pending)
}
