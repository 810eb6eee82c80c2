package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tcon/pkg/host"
	"tcon/pkg/protocol"
	"tcon/pkg/sim"
)

type runOpts struct {
	configPath string
	schedules  []string
	until      float64
	step       float64
	pace       time.Duration
	withWorker bool
	logLevel   string
}

// newRunCmd creates the "tcon run" subcommand: a dry run of the host plugin
// against a logging simulator and a synthetic clock.
func newRunCmd(configPath *string) *cobra.Command {
	var opts runOpts

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dry-run the host against a logging simulator",
		Long: `Loads the host plugin exactly as the simulator would and steps it on a
synthetic clock. Every simulation call is logged instead of executed.

With --worker the worker is launched too, so commands can be submitted over
HTTP while the run is paced with --pace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.configPath = *configPath
			return runDry(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&opts.schedules, "schedule", nil, "extra schedule files, appended after the configured schedule")
	cmd.Flags().Float64Var(&opts.until, "until", 0, "last simulated second (default: one step past the last scheduled command)")
	cmd.Flags().Float64Var(&opts.step, "step", 1, "simulated seconds per step")
	cmd.Flags().DurationVar(&opts.pace, "pace", 0, "wall-clock delay between steps")
	cmd.Flags().BoolVar(&opts.withWorker, "worker", false, "launch the worker alongside the host")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

// dryRunSummary is printed at the end of a run.
type dryRunSummary struct {
	Steps   int
	Until   protocol.SimTime
	Calls   int
	Pending int
}

func runDry(ctx context.Context, opts runOpts, out io.Writer) error {
	if opts.step <= 0 {
		return errors.New("--step must be positive")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, logs, err := loadConfig(opts.configPath, opts.logLevel, "", os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logs.Close() }()

	for _, path := range opts.schedules {
		cmds, diags, err := loadScheduleFile(path, cfg.Strict)
		if err != nil {
			return err
		}
		for _, d := range diags {
			logs.For("config").Warn("schedule entry rejected", "entry", d.String())
		}
		cfg.Schedule = append(cfg.Schedule, cmds...)
	}
	cfg.Worker.Disabled = !opts.withWorker

	until := protocol.SimTime(opts.until)
	if until <= 0 {
		until = lastScheduled(cfg.Schedule) + protocol.SimTime(opts.step)
	}

	api := sim.NewRecorder(logs.For("sim"))
	p, err := host.Load(ctx, host.Options{Config: cfg, Logs: logs, API: api, HostDir: executableDir()})
	if err != nil {
		return err
	}

	p.Init()
	if rc := p.SimulationReady(); rc != 0 {
		return errors.Join(fmt.Errorf("simulation ready returned %d", rc), p.Unload())
	}

	sum := dryRunSummary{Until: until}
	for t := protocol.SimTime(0); t <= until && ctx.Err() == nil; t += protocol.SimTime(opts.step) {
		p.Manage(float64(t), float64(t), 0, opts.step)
		p.PostManage(float64(t), float64(t), 0, opts.step)
		sum.Steps++
		if opts.pace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.pace):
			}
		}
	}
	p.Finish()
	sum.Pending = len(p.Pending())
	unloadErr := p.Unload()
	sum.Calls = len(api.Calls())

	fmt.Fprintf(out, "steps: %d (0..%s)\nsimulation calls: %d\nstill scheduled: %d\n",
		sum.Steps, sum.Until, sum.Calls, sum.Pending)
	return unloadErr
}

// lastScheduled returns when the last scheduled effect ends, counting the
// removals that durations will queue.
func lastScheduled(cmds []protocol.Command) protocol.SimTime {
	var last protocol.SimTime
	for _, c := range cmds {
		at := c.EffectiveStart(0)
		if !c.Time.IsImmediate() && c.Time > at {
			at = c.Time
		}
		if lt, ok := c.Payload.(protocol.Lifetime); ok {
			if d, ok := lt.Lifetime(); ok && d > 0 {
				at += protocol.SimTime(d)
			}
		}
		if at > last {
			last = at
		}
	}
	return last
}

// executableDir is where a sibling worker binary would live.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
