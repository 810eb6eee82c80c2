package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var levelStyles = map[slog.Level]lipgloss.Style{ //nolint:gochecknoglobals // read-only style table
	slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Bold(true),
	slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")).Bold(true),
	slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")).Bold(true),
	slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true),
}

//nolint:gochecknoglobals // read-only styles
var (
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	keyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#94E2D5"))
	compStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CBA6F7")).Italic(true)
)

// consoleHandler renders one coloured line per record:
//
//	15:04:05.000 INFO  [component] message key=value ...
type consoleHandler struct {
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	prefix string // group prefix for keys

	mu *sync.Mutex
	w  io.Writer
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *consoleHandler {
	h := &consoleHandler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(timeStyle.Render(r.Time.Format(time.TimeOnly + ".000")))
		buf.WriteByte(' ')
	}
	buf.WriteString(levelBadge(r.Level))
	buf.WriteByte(' ')

	var component string
	var rest []slog.Attr
	collect := func(a slog.Attr) {
		if a.Key == "component" && h.prefix == "" {
			component = a.Value.String()
			return
		}
		rest = append(rest, a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})

	if component != "" {
		buf.WriteString(compStyle.Render("[" + component + "]"))
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Message)
	for _, a := range rest {
		writeAttr(&buf, "", a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err //nolint:wrapcheck // slog reports handler errors as-is
}

func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(keyStyle.Render(prefix + a.Key))
	buf.WriteByte('=')
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\n\"=") {
		v = fmt.Sprintf("%q", v)
	}
	buf.WriteString(v)
}

func levelBadge(level slog.Level) string {
	name := fmt.Sprintf("%-5s", level.String())
	style, ok := levelStyles[level]
	if !ok {
		switch {
		case level < slog.LevelInfo:
			style = levelStyles[slog.LevelDebug]
		case level < slog.LevelWarn:
			style = levelStyles[slog.LevelInfo]
		case level < slog.LevelError:
			style = levelStyles[slog.LevelWarn]
		default:
			style = levelStyles[slog.LevelError]
		}
	}
	return style.Render(name)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &h2
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}
