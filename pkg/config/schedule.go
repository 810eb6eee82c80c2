package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"tcon/pkg/protocol"
)

// inlineLabel labels entries from the config file's own schedule list.
const inlineLabel = "inline.schedule"

// Diagnostic describes one rejected schedule entry.
type Diagnostic struct {
	// Label is the source: "inline.schedule" or the include file path.
	Label  string
	Index  int
	Field  string
	Reason string
}

func (d Diagnostic) String() string {
	if d.Index < 0 {
		return fmt.Sprintf("%s -> %s", d.Label, d.Reason)
	}
	if d.Field == "" {
		return fmt.Sprintf("%s:%d -> %s", d.Label, d.Index, d.Reason)
	}
	return fmt.Sprintf("%s:%d.%s -> %s", d.Label, d.Index, d.Field, d.Reason)
}

// ScheduleError is returned in strict mode when any entry was rejected.
type ScheduleError struct {
	Diagnostics []Diagnostic
}

func (e *ScheduleError) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return fmt.Sprintf("schedule contains %d error(s):\n%s", len(lines), strings.Join(lines, "\n"))
}

// LoadSchedule loads a standalone schedule file: a top-level list of
// entries, or a mapping with a "schedule" list (the TOML form, written as
// [[schedule]] tables).
func LoadSchedule(path string) ([]protocol.Command, []Diagnostic, error) {
	doc, _, err := readDocument(path)
	if err != nil {
		return nil, nil, err
	}
	cmds, diags := decodeEntries(path, scheduleList(doc))
	return cmds, diags, nil
}

// loadChunks walks the schedule-bearing keys in document order: inline
// lists and include files. Relative includes resolve against dir.
func loadChunks(root map[string]any, keys []string, dir string, log *slog.Logger) ([]protocol.Command, []Diagnostic) {
	var (
		cmds  []protocol.Command
		diags []Diagnostic
	)
	for _, key := range keys {
		value := root[key]
		switch key {
		case "schedule":
			c, d := decodeEntries(inlineLabel, value)
			cmds, diags = append(cmds, c...), append(diags, d...)
		case "schedule_file", "schedule_files":
			for _, file := range includeList(value) {
				path := file
				if !filepath.IsAbs(path) {
					path = filepath.Join(dir, path)
				}
				log.Info("loading schedule file", "path", path)
				c, d, err := LoadSchedule(path)
				if err != nil {
					diags = append(diags, Diagnostic{Label: path, Index: -1, Reason: err.Error()})
					continue
				}
				cmds, diags = append(cmds, c...), append(diags, d...)
			}
		}
	}
	return cmds, diags
}

func includeList(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func scheduleList(doc any) any {
	if m, ok := doc.(map[string]any); ok {
		return m["schedule"]
	}
	return doc
}

// decodeEntries validates each entry independently. Entries are
// re-encoded as JSON so the same decoder serves every file format.
func decodeEntries(label string, raw any) ([]protocol.Command, []Diagnostic) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, []Diagnostic{{Label: label, Index: -1, Reason: "schedule must be a list"}}
	}

	var (
		cmds  []protocol.Command
		diags []Diagnostic
	)
	for i, item := range list {
		cmd, err := decodeEntry(item)
		if err != nil {
			diags = append(diags, diagnose(label, i, err))
			continue
		}
		cmds = append(cmds, cmd.WithID())
	}
	return cmds, diags
}

func decodeEntry(item any) (protocol.Command, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("encode entry: %w", err)
	}
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocol.Command{}, err //nolint:wrapcheck // typed errors are unpacked by diagnose
	}
	if err := cmd.Validate(); err != nil {
		return protocol.Command{}, err //nolint:wrapcheck // typed errors are unpacked by diagnose
	}
	return cmd, nil
}

func diagnose(label string, index int, err error) Diagnostic {
	d := Diagnostic{Label: label, Index: index, Reason: err.Error()}

	var ve *protocol.ValidationError
	var se *protocol.SchedulingError
	switch {
	case errors.As(err, &ve):
		d.Field, d.Reason = ve.Field, ve.Reason
		switch ve.Field {
		case "command", "time", "payload":
		default:
			d.Field = "payload." + ve.Field
		}
	case errors.As(err, &se):
		d.Field = "payload.ini_time"
		d.Reason = fmt.Sprintf("must be greater than schedule time (%s)", se.ScheduleTime)
	}
	return d
}
