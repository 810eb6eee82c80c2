package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tcon/internal/logging"
	"tcon/pkg/config"
	"tcon/pkg/dispatch"
	"tcon/pkg/journal"
	"tcon/pkg/protocol"
	"tcon/pkg/schedule"
	"tcon/pkg/sim"
	"tcon/pkg/supervisor"
	"tcon/pkg/telemetry"
	"tcon/pkg/transport"
)

// State is the plugin lifecycle state.
type State string

const (
	StateLoaded   State = "loaded"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateUnloaded State = "unloaded"
)

// quiesceTimeout bounds the wait, after the worker has stopped, for its
// connection to deliver what it already wrote.
const quiesceTimeout = 2 * time.Second

// Channel is the host end of the transport with its lifecycle.
// *transport.Server satisfies it.
type Channel interface {
	Inbox
	Address() string
	Start() error
	Stop() error
	// Quiesce waits for departed peers to reach end of stream.
	Quiesce(timeout time.Duration) bool
}

// Worker is the supervised ingestion process. *supervisor.Supervisor
// satisfies it.
type Worker interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Alive() bool
}

// Options configures Load. Only API is required.
type Options struct {
	// Config is the loaded configuration. Nil loads it from the default path.
	Config *config.Config
	// Logs supplies component loggers. Nil builds one from Config.Log, which
	// the plugin then owns and closes at Unload.
	Logs *logging.Manager
	// API is the simulation the commands are executed against.
	API sim.API
	// HostDir is the directory of the host library, searched for a sibling
	// worker executable.
	HostDir string

	// Channel and Worker replace the transport server and the supervisor.
	Channel Channel
	Worker  Worker
	// Registerer receives the dispatch metrics. Nil uses a fresh registry.
	Registerer prometheus.Registerer
}

// Plugin is the host-side context created at Load and threaded through
// every simulator callback. Callbacks arrive on the simulator's thread.
type Plugin struct {
	cfg  *config.Config
	log  *slog.Logger
	logs *logging.Manager
	// ownLogs is set when Load built logs and Unload must close them.
	ownLogs bool

	// ctx spans Load to Unload; callbacks carry no context of their own.
	ctx    context.Context
	cancel context.CancelFunc

	sched   *schedule.Schedule
	loop    *Loop
	channel Channel
	worker  Worker
	journal *journal.Journal
	metrics *telemetry.DispatchCollector
	metSrv  *telemetry.Server

	mu       sync.Mutex
	state    State
	lastTime protocol.SimTime
	// startErrs collects transport and worker failures after Load, which
	// Unload reports.
	startErrs []error
}

// Load builds the plugin: schedule seeded with the static entries, handler
// table, dispatcher, journal and metrics. The transport and the worker are
// created but not started.
func Load(ctx context.Context, opts Options) (*Plugin, error) {
	if opts.API == nil {
		return nil, errors.New("load plugin: simulation API is required")
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load("", slog.Default()); err != nil {
			return nil, fmt.Errorf("load plugin: %w", err)
		}
	}

	p := &Plugin{cfg: cfg, logs: opts.Logs, state: StateLoaded}
	if p.logs == nil {
		logs, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("load plugin: %w", err)
		}
		p.logs, p.ownLogs = logs, true
	}
	p.log = p.logs.For("host")
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := p.build(ctx, opts); err != nil {
		_ = p.release()
		return nil, fmt.Errorf("load plugin: %w", err)
	}
	p.lifecycle("load")
	p.log.Info("plugin loaded",
		"scheduled", p.sched.Len(),
		"endpoint", p.channel.Address(),
		"worker", p.worker != nil,
		"journal", p.journal != nil)
	return p, nil
}

func (p *Plugin) build(ctx context.Context, opts Options) error {
	cfg := p.cfg

	var observers []dispatch.Observer
	var monitors []Monitor
	if !cfg.Journal.Disabled && cfg.Journal.Path != "" {
		j, err := journal.Open(ctx, cfg.Journal.Path, p.logs.For("journal"))
		if err != nil {
			return err
		}
		p.journal = j
		observers = append(observers, j)
		monitors = append(monitors, j)
	}

	if cfg.Metrics.Listen != "" {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		col, err := telemetry.NewDispatchCollector(reg)
		if err != nil {
			return err
		}
		srv, err := telemetry.Serve(cfg.Metrics.Listen, col.Handler(), p.logs.For("metrics"))
		if err != nil {
			return err
		}
		p.metrics, p.metSrv = col, srv
		observers = append(observers, col)
		monitors = append(monitors, metricsMonitor{c: col})
	}

	p.sched = schedule.New()
	for _, cmd := range cfg.Schedule {
		p.sched.Push(cmd)
	}

	dlog := p.logs.For("dispatch")
	reg, err := dispatch.Builtin(opts.API, dlog)
	if err != nil {
		return err
	}
	disp := dispatch.New(reg, p.sched, dispatch.Config{CallTimeout: cfg.Dispatch.CallTimeout.D()}, dlog, observers...)

	p.channel = opts.Channel
	if p.channel == nil {
		p.channel = transport.NewServer(EndpointFor(cfg), p.logs.For("transport"))
	}

	if !cfg.Worker.Disabled {
		p.worker = opts.Worker
		if p.worker == nil {
			wlog := p.logs.For("supervisor")
			p.worker = supervisor.New(supervisor.Config{
				Endpoint:    p.channel.Address(),
				Listen:      cfg.API.Addr(),
				LogLevel:    cfg.Log.Level,
				LogFile:     cfg.Worker.LogFile,
				OutputLog:   cfg.Worker.OutputLog,
				StopTimeout: cfg.Worker.StopTimeout.D(),
			}, supervisor.NewResolver(cfg.Worker.Executable, opts.HostDir, wlog), wlog)
		}
	}

	p.loop = NewLoop(p.sched, disp, p.channel, LoopConfig{
		DrainEvery:   cfg.Transport.DrainEvery,
		DedupeWindow: cfg.Transport.DedupeWindow,
	}, p.log, monitors...)
	return nil
}

// EndpointFor derives the transport endpoint from the configuration. The
// worker dials the same endpoint.
func EndpointFor(cfg *config.Config) transport.Endpoint {
	if cfg.Transport.Address != "" {
		return transport.EndpointAt(cfg.Transport.Address)
	}
	dir := ""
	if cfg.Paths != nil {
		dir = cfg.Paths.EndpointDir
	}
	return transport.NewEndpoint(dir, cfg.Transport.Name)
}

// --- Simulator callbacks ---

// Init is called once the network is loaded.
func (p *Plugin) Init() int {
	p.lifecycle("init")
	return 0
}

// SimulationReady starts the transport, then the worker. A transport that
// cannot bind fails the callback; a worker that cannot start is logged and
// the simulation runs on the static schedule alone. Both failures are
// reported again by Unload.
func (p *Plugin) SimulationReady() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLoaded {
		p.log.Warn("simulation ready in unexpected state; ignored", "state", p.state)
		return 0
	}

	if err := p.channel.Start(); err != nil {
		p.log.Error("transport failed to start", "endpoint", p.channel.Address(), "error", err)
		p.startErrs = append(p.startErrs, err)
		return -1
	}
	if p.worker != nil {
		if err := p.worker.Start(p.ctx); err != nil {
			p.log.Error("worker failed to start; running without submissions", "error", err)
			p.startErrs = append(p.startErrs, err)
		}
	}
	p.state = StateRunning
	p.lifecycle("simulation ready")
	return 0
}

// Manage runs one step at simulation time t. It always returns 0.
func (p *Plugin) Manage(t, _, _, _ float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning && p.state != StateLoaded {
		return 0
	}
	now := protocol.SimTime(t)
	p.lastTime = now
	p.loop.Step(p.ctx, now)
	return 0
}

// PostManage is called after each step.
func (p *Plugin) PostManage(_, _, _, _ float64) int { return 0 }

// Finish is called when the simulation ends.
func (p *Plugin) Finish() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning || p.state == StateLoaded {
		p.state = StateFinished
	}
	p.log.Info("simulation finished", "at", p.lastTime, "steps", p.loop.Steps(), "scheduled", p.sched.Len())
	p.lifecycle("finish")
	return 0
}

// Unload stops the worker, waits for its connection to deliver what it
// wrote, drains the transport one last time, closes it, and releases the
// journal and metrics. Every failure, including those
// recorded at SimulationReady, is returned joined.
func (p *Plugin) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateUnloaded {
		return nil
	}
	p.state = StateUnloaded

	errs := append([]error(nil), p.startErrs...)
	if p.worker != nil {
		if err := p.worker.Stop(p.cfg.Worker.StopTimeout.D()); err != nil {
			errs = append(errs, fmt.Errorf("stop worker: %w", err))
		}
		if !p.channel.Quiesce(quiesceTimeout) {
			p.log.Warn("worker connection still open after stop; late sends may be lost", "waited", quiesceTimeout)
		}
	}
	st := p.loop.FinalDrain(p.ctx, p.lastTime)
	if st.Received > 0 {
		p.log.Info("final drain", "received", st.Received, "executed", st.Executed, "dropped", st.Dropped)
	}
	p.lifecycle("unload")
	errs = append(errs, p.release())
	return errors.Join(errs...)
}

// release closes everything Load opened.
func (p *Plugin) release() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if p.metSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, p.metSrv.Shutdown(ctx))
		cancel()
	}
	if p.journal != nil {
		errs = append(errs, p.journal.Close())
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.ownLogs {
		errs = append(errs, p.logs.Close())
	}
	return errors.Join(errs...)
}

// --- Unused simulator events ---

func (p *Plugin) EnterVehicle(_, _ int) int { return 0 }
func (p *Plugin) ExitVehicle(_, _ int) int { return 0 }
func (p *Plugin) EnterPedestrian(_, _ int) int { return 0 }
func (p *Plugin) ExitPedestrian(_, _ int) int { return 0 }
func (p *Plugin) EnterVehicleSection(_, _ int, _ float64) int { return 0 }
func (p *Plugin) ExitVehicleSection(_, _ int, _ float64) int { return 0 }
func (p *Plugin) PreRouteChoiceCalculation(_, _ float64) int { return 0 }
func (p *Plugin) VehicleStartParking(_, _ int, _ float64) int { return 0 }

// --- Introspection ---

// State returns the lifecycle state.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pending returns the scheduled commands without consuming them.
func (p *Plugin) Pending() []protocol.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched.Pending()
}

// Endpoint returns the transport address the worker sends to.
func (p *Plugin) Endpoint() string { return p.channel.Address() }

func (p *Plugin) lifecycle(msg string) {
	if p.journal != nil {
		p.journal.Lifecycle(p.ctx, msg)
	}
}
