// Package supervisor starts and stops the standalone worker process that
// ingests commands on behalf of the simulation host.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"tcon/internal/version"
	"tcon/pkg/protocol"
)

// EnvWorker overrides worker discovery with an explicit executable path.
const EnvWorker = "TCON_WORKER"

// probeTimeout bounds `<exe> version` during discovery.
const probeTimeout = 5 * time.Second

// ErrWorkerNotFound is wrapped by the ProcessError returned when no
// candidate executable qualifies.
var ErrWorkerNotFound = errors.New("no usable tcon worker executable")

// Resolver finds the worker executable. The host process is the simulator,
// so its own executable is never a candidate.
//
// Candidates in order: the configured path (trusted, only checked to
// exist), $TCON_WORKER, "tcon" on PATH, and "tcon" next to the host
// library. All but the first must answer `version` with a compatible
// banner. The first accepted path is cached.
type Resolver struct {
	configured string
	hostDir    string
	log        *slog.Logger

	getenv   func(string) string
	lookPath func(string) (string, error)
	probe    func(ctx context.Context, path string) error

	mu       sync.Mutex
	resolved string
}

// NewResolver creates a Resolver. hostDir is the directory holding the host
// library and may be empty.
func NewResolver(configured, hostDir string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		configured: configured,
		hostDir:    hostDir,
		log:        log,
		getenv:     os.Getenv,
		lookPath:   exec.LookPath,
		probe:      probeVersion,
	}
}

type candidate struct {
	source string
	path   string
}

// Resolve returns the worker executable path.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}

	if r.configured != "" {
		if err := checkExecutable(r.configured); err != nil {
			return "", &protocol.ProcessError{Op: "resolve", Path: r.configured, Err: err}
		}
		r.resolved = r.configured
		r.log.Info("worker executable resolved", "source", "config", "path", r.configured)
		return r.resolved, nil
	}

	var errs []error
	for _, c := range r.candidates() {
		if err := checkExecutable(c.path); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", c.source, c.path, err))
			continue
		}
		if err := r.probe(ctx, c.path); err != nil {
			r.log.Debug("worker candidate rejected", "source", c.source, "path", c.path, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", c.source, c.path, err))
			continue
		}
		r.resolved = c.path
		r.log.Info("worker executable resolved", "source", c.source, "path", c.path)
		return r.resolved, nil
	}

	return "", &protocol.ProcessError{
		Op:   "resolve",
		Path: protocol.WorkerBinary,
		Err:  errors.Join(append([]error{ErrWorkerNotFound}, errs...)...),
	}
}

func (r *Resolver) candidates() []candidate {
	var out []candidate
	if p := r.getenv(EnvWorker); p != "" {
		out = append(out, candidate{source: "env", path: p})
	}
	if p, err := r.lookPath(protocol.WorkerBinary); err == nil {
		out = append(out, candidate{source: "path", path: p})
	}
	if r.hostDir != "" {
		out = append(out, candidate{source: "sibling", path: filepath.Join(r.hostDir, protocol.WorkerBinary+exeSuffix)})
	}
	return out
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	return nil
}

// probeVersion runs `<path> version` and checks the banner and protocol.
func probeVersion(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "version").Output() //nolint:gosec // candidate path is the point of the probe
	if err != nil {
		return fmt.Errorf("run version: %w", err)
	}
	ver, proto, ok := version.ParseBanner(string(out))
	if !ok {
		return errors.New("not a tcon executable")
	}
	if proto != protocol.Version {
		return fmt.Errorf("tcon %s speaks protocol %d, want %d", ver, proto, protocol.Version)
	}
	return nil
}
