package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"tcon/pkg/protocol"
)

// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL.
const DefaultStopTimeout = 3 * time.Second

// killWait bounds the wait for the exit after SIGKILL, so Stop returns
// within the grace period plus killWait.
const killWait = 500 * time.Millisecond

// Config describes how the worker is launched.
type Config struct {
	// Endpoint is the transport address the worker sends to.
	Endpoint string
	// Listen is the worker's HTTP host:port.
	Listen   string
	LogLevel string
	// LogFile is the worker's own structured log file, passed via --log-file.
	LogFile string
	// OutputLog receives the worker's stdout and stderr. Empty inherits the
	// host's stderr.
	OutputLog   string
	StopTimeout time.Duration
}

// Supervisor owns at most one worker process.
type Supervisor struct {
	cfg Config
	res *Resolver
	log *slog.Logger

	// cmdFactory builds the exec.Cmd for the resolved executable. Tests
	// override it to spawn a stand-in process.
	cmdFactory func(exe string, args []string) *exec.Cmd
	httpClient *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

// New creates a Supervisor. Nothing is started until Start.
func New(cfg Config, res *Resolver, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		cfg: cfg,
		res: res,
		log: log,
		cmdFactory: func(exe string, args []string) *exec.Cmd {
			//nolint:gosec // intentionally spawning the worker subprocess
			return exec.Command(exe, args...)
		},
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// Args returns the worker command line after the executable.
func (s *Supervisor) Args() []string {
	args := []string{"worker", "--endpoint", s.cfg.Endpoint}
	if s.cfg.Listen != "" {
		args = append(args, "--listen", s.cfg.Listen)
	}
	if s.cfg.LogLevel != "" {
		args = append(args, "--log-level", s.cfg.LogLevel)
	}
	if s.cfg.LogFile != "" {
		args = append(args, "--log-file", s.cfg.LogFile)
	}
	return args
}

// Start resolves and launches the worker. Starting while a worker is
// running logs a warning and does nothing.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		s.log.Warn("worker already running; start ignored", "pid", s.cmd.Process.Pid)
		return nil
	}

	exe, err := s.res.Resolve(ctx)
	if err != nil {
		return err
	}

	cmd := s.cmdFactory(exe, s.Args())
	setProcessGroup(cmd)

	logFile, err := s.openOutput()
	if err != nil {
		return &protocol.ProcessError{Op: "start", Path: exe, Err: err}
	}
	if logFile != nil {
		cmd.Stdout, cmd.Stderr = logFile, logFile
	} else {
		cmd.Stdout, cmd.Stderr = os.Stderr, os.Stderr
	}

	startErr := cmd.Start()
	// The child inherits the log fd; the parent's copy is no longer needed.
	if logFile != nil {
		_ = logFile.Close()
	}
	if startErr != nil {
		return &protocol.ProcessError{Op: "start", Path: exe, Err: startErr}
	}

	exited := make(chan struct{})
	s.cmd, s.exited, s.exitErr = cmd, exited, nil

	// Reap the child in the background to avoid zombies.
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.exitErr = err
		}
		s.mu.Unlock()
		close(exited)
		s.log.Info("worker exited", "pid", cmd.Process.Pid, "error", err)
	}()

	s.log.Info("worker started", "pid", cmd.Process.Pid, "path", exe, "endpoint", s.cfg.Endpoint, "listen", s.cfg.Listen)
	return nil
}

func (s *Supervisor) openOutput() (*os.File, error) {
	if s.cfg.OutputLog == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.OutputLog), 0o700); err != nil {
		return nil, fmt.Errorf("create worker log dir: %w", err)
	}
	f, err := os.OpenFile(s.cfg.OutputLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path comes from config
	if err != nil {
		return nil, fmt.Errorf("open worker log %s: %w", s.cfg.OutputLog, err)
	}
	return f, nil
}

// Stop sends SIGTERM to the worker's process group, waits up to timeout,
// then sends SIGKILL. Stopping when nothing runs is a no-op. A zero timeout
// uses Config.StopTimeout.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}

	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.cmd, s.exited = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	if err := terminate(cmd.Process); err != nil {
		// Already gone between the check and the signal.
		kill(cmd.Process)
	}

	select {
	case <-exited:
		s.log.Info("worker stopped", "pid", pid)
		return nil
	case <-time.After(timeout):
	}

	s.log.Warn("worker ignored SIGTERM; killing", "pid", pid, "grace", timeout)
	kill(cmd.Process)
	select {
	case <-exited:
		return nil
	case <-time.After(killWait):
		return &protocol.ProcessError{Op: "stop", Path: cmd.Path, PID: pid, Err: errors.New("process did not exit after SIGKILL")}
	}
}

// Alive reports whether the worker process is running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// PID returns the worker's process id, or 0 if none is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Supervisor) runningLocked() bool {
	if s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Probe checks the worker's HTTP health endpoint.
func (s *Supervisor) Probe(ctx context.Context) error {
	return ProbeHealth(ctx, s.httpClient, s.cfg.Listen)
}

// ProbeHealth GETs http://<listen>/health and expects 200.
func ProbeHealth(ctx context.Context, client *http.Client, listen string) error {
	if listen == "" {
		return errors.New("probe health: no listen address")
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+listen+"/health", nil)
	if err != nil {
		return fmt.Errorf("probe health: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe health: status %d", resp.StatusCode)
	}
	return nil
}
