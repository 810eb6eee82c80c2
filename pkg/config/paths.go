package config

import (
	"fmt"
	"os"
	"path/filepath"

	"tcon/pkg/protocol"
)

// Environment overrides.
const (
	EnvHome     = "TCON_HOME"
	EnvConfig   = "TCON_CONFIG"
	EnvEndpoint = "TCON_ENDPOINT"
	EnvJournal  = "TCON_JOURNAL_DB"
)

// Paths holds all resolved tcon state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home        string // ~/.tcon or TCON_HOME
	ConfigPath  string // config.json or TCON_CONFIG
	EndpointDir string // run/ under Home; holds the transport socket
	Endpoint    string // explicit transport address from TCON_ENDPOINT, else ""
	JournalPath string // journal.db or TCON_JOURNAL_DB
	PIDPath     string // worker.pid
	WorkerLog   string // logs/worker.out
}

// ResolvePaths returns all tcon paths, respecting env var overrides.
// Environment variables:
//   - TCON_HOME: base directory for all tcon state (default: ~/.tcon)
//   - TCON_CONFIG: configuration file (default: $TCON_HOME/config.json)
//   - TCON_ENDPOINT: transport address, overriding the configured name
//   - TCON_JOURNAL_DB: outcome journal (default: $TCON_HOME/journal.db)
//
// If TCON_HOME is set, it becomes the base for all default paths.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:        home,
		ConfigPath:  resolvePathWithEnv(EnvConfig, home, "config.json"),
		EndpointDir: filepath.Join(home, "run"),
		Endpoint:    os.Getenv(EnvEndpoint),
		JournalPath: resolvePathWithEnv(EnvJournal, home, "journal.db"),
		PIDPath:     filepath.Join(home, "worker.pid"),
		WorkerLog:   filepath.Join(home, "logs", "worker.out"),
	}, nil
}

// resolveHome returns the tcon home directory from TCON_HOME or ~/.tcon.
func resolveHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.TconDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
