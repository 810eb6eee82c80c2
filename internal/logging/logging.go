// Package logging builds the slog loggers used across tcon: a colourised
// console handler for terminals, plain text or JSON otherwise, optional
// rotating log files, and per-component level overrides.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for log files.
const (
	maxFileSizeMB  = 5
	maxFileBackups = 3
)

// ModuleConfig overrides logging for one component.
type ModuleConfig struct {
	Level   string `json:"level,omitempty"   yaml:"level,omitempty"   toml:"level,omitempty"`
	LogFile string `json:"logfile,omitempty" yaml:"logfile,omitempty" toml:"logfile,omitempty"`
	ANSI    *bool  `json:"ansi,omitempty"    yaml:"ansi,omitempty"    toml:"ansi,omitempty"`
}

// Config controls logger construction.
type Config struct {
	Level   string                  `json:"level,omitempty"   yaml:"level,omitempty"   toml:"level,omitempty"`
	Format  string                  `json:"format,omitempty"  yaml:"format,omitempty"  toml:"format,omitempty"` // text or json
	LogFile string                  `json:"logfile,omitempty" yaml:"logfile,omitempty" toml:"logfile,omitempty"`
	ANSI    *bool                   `json:"ansi,omitempty"    yaml:"ansi,omitempty"    toml:"ansi,omitempty"`
	Modules map[string]ModuleConfig `json:"modules,omitempty" yaml:"modules,omitempty" toml:"modules,omitempty"`
}

// Manager hands out component loggers and owns their file sinks.
type Manager struct {
	cfg    Config
	stdout io.Writer

	mu      sync.Mutex
	files   map[string]*lumberjack.Logger
	loggers map[string]*slog.Logger
}

// New validates cfg and returns a Manager writing console output to stdout.
func New(cfg Config, stdout io.Writer) (*Manager, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if _, err := ParseLevel(cfg.Level); err != nil {
		return nil, err
	}
	for name, mc := range cfg.Modules {
		if _, err := ParseLevel(mc.Level); err != nil {
			return nil, fmt.Errorf("log.modules.%s: %w", name, err)
		}
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return &Manager{
		cfg:     cfg,
		stdout:  stdout,
		files:   make(map[string]*lumberjack.Logger),
		loggers: make(map[string]*slog.Logger),
	}, nil
}

// For returns the logger for component, tagged with component=<name>.
// Module overrides fall back to the top-level settings field by field.
func (m *Manager) For(component string) *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[component]; ok {
		return l
	}

	mc := m.cfg.Modules[component]
	levelName := firstNonEmpty(mc.Level, m.cfg.Level)
	level, _ := ParseLevel(levelName) // validated in New
	path := firstNonEmpty(mc.LogFile, m.cfg.LogFile)
	ansi := m.cfg.ANSI
	if mc.ANSI != nil {
		ansi = mc.ANSI
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch {
	case path != "":
		h = m.plainHandler(m.fileLocked(path), opts)
	case useColor(m.stdout, ansi) && m.cfg.Format != "json":
		h = newConsoleHandler(m.stdout, opts)
	default:
		h = m.plainHandler(m.stdout, opts)
	}

	l := slog.New(h)
	if component != "" {
		l = l.With("component", component)
	}
	m.loggers[component] = l
	return l
}

func (m *Manager) plainHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(m.cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// fileLocked returns the shared rotating writer for path.
func (m *Manager) fileLocked(path string) *lumberjack.Logger {
	if f, ok := m.files[path]; ok {
		return f
	}
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxFileSizeMB,
		MaxBackups: maxFileBackups,
	}
	m.files[path] = f
	return f
}

// Close flushes and closes every log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for path, f := range m.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// useColor reports whether console output should be colourised: the writer
// must be a terminal and ANSI must not be disabled.
func useColor(w io.Writer, ansi *bool) bool {
	if ansi != nil && !*ansi {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type ctxKey struct{}

// ContextWithLogger stores l on ctx.
func ContextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored on ctx, or fallback.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
