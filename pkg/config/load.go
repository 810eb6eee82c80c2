package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration at path, or at the resolved default path
// when path is empty. A missing or unreadable file yields defaults with a
// warning; so does a malformed one. Malformed schedule entries are
// collected as Diagnostics and skipped, unless strict is set, in which case
// Load returns a *ScheduleError.
func Load(path string, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = paths.ConfigPath
	}
	cfg := Default(paths)

	doc, keys, err := readDocument(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("config file not found; using defaults", "path", path)
		} else {
			log.Warn("config file unreadable; using defaults", "path", path, "error", err)
		}
		return cfg, nil
	}
	root, ok := doc.(map[string]any)
	if !ok {
		log.Warn("config root is not a mapping; using defaults", "path", path)
		return cfg, nil
	}

	normalized, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("normalize config %s: %w", path, err)
	}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Source = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	log.Debug("processing schedule", "path", path)
	cfg.Schedule, cfg.Diagnostics = loadChunks(root, keys, filepath.Dir(path), log)
	if len(cfg.Diagnostics) > 0 {
		if cfg.Strict {
			return nil, &ScheduleError{Diagnostics: cfg.Diagnostics}
		}
		lines := make([]string, len(cfg.Diagnostics))
		for i, d := range cfg.Diagnostics {
			lines[i] = d.String()
		}
		log.Error("schedule contains errors", "rejected", len(lines), "details", strings.Join(lines, "\n"))
	}
	log.Info("loaded schedule", "entries", len(cfg.Schedule), "path", path)
	return cfg, nil
}

// readDocument decodes path by extension into generic values and returns
// its top-level keys in file order.
func readDocument(path string) (any, []string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user configuration
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
		return doc, yamlKeys(data), nil
	case ".toml":
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, nil, fmt.Errorf("parse toml %s: %w", path, err)
		}
		return m, tomlKeys(m), nil
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("parse json %s: %w", path, err)
		}
		return doc, jsonKeys(data), nil
	}
}

// jsonKeys returns the top-level object keys in document order.
func jsonKeys(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// yamlKeys returns the top-level mapping keys in document order.
func yamlKeys(data []byte) []string {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil || len(node.Content) == 0 {
		return nil
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(root.Content)/2)
	for i := 0; i < len(root.Content); i += 2 {
		keys = append(keys, root.Content[i].Value)
	}
	return keys
}

// tomlKeys orders the schedule keys for TOML documents, whose tables carry
// no usable ordering once decoded: inline schedule first, then includes.
func tomlKeys(m map[string]any) []string {
	var keys []string
	for _, k := range []string{"schedule", "schedule_file", "schedule_files"} {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
