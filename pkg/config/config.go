// Package config loads tcon's configuration file and its static schedule.
// JSON, YAML, and TOML are accepted, selected by file extension.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"tcon/internal/logging"
	"tcon/pkg/protocol"
)

// Defaults.
const (
	DefaultDrainEvery   = 20
	DefaultDedupeWindow = 4096
	DefaultBufferSize   = 1024
	DefaultStopTimeout  = 3 * time.Second
)

// Duration decodes from a Go duration string ("3s") or a number of seconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String()) //nolint:wrapcheck // plain string encode
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(x * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("duration: unsupported value %s", data)
	}
	return nil
}

// API addresses the worker's submission API.
type API struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (a API) Addr() string { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// Worker controls the supervised worker process.
type Worker struct {
	// Executable is a trusted path to the tcon binary; empty means discover.
	Executable  string   `json:"executable"`
	StopTimeout Duration `json:"stop_timeout"`
	// LogFile is the worker's own structured log.
	LogFile string `json:"log_file"`
	// OutputLog receives the worker's stdout and stderr.
	OutputLog string `json:"output_log"`
	// Disabled runs the host without a worker: only the static schedule
	// feeds commands.
	Disabled bool `json:"disabled"`
}

// Transport controls the host/worker channel.
type Transport struct {
	// Name is the logical endpoint name shared by host and worker.
	Name string `json:"name"`
	// Address overrides the endpoint derived from Name.
	Address string `json:"address"`
	// DrainEvery forces a transport drain every N steps even without a
	// notification.
	DrainEvery int `json:"drain_every"`
	// DedupeWindow is how many recent command IDs the host remembers.
	DedupeWindow int `json:"dedupe_window"`
	// BufferSize bounds the worker's outbound queue.
	BufferSize int `json:"buffer_size"`
}

// Dispatch controls command execution.
type Dispatch struct {
	CallTimeout Duration `json:"call_timeout"`
}

// Journal controls the outcome journal.
type Journal struct {
	Path     string `json:"path"`
	Disabled bool   `json:"disabled"`
}

// Metrics controls the host's Prometheus endpoint.
type Metrics struct {
	// Listen is host:port for /metrics; empty disables it.
	Listen string `json:"listen"`
}

// Config is the complete tcon configuration.
type Config struct {
	API       API            `json:"api"`
	Worker    Worker         `json:"worker"`
	Transport Transport      `json:"transport"`
	Dispatch  Dispatch       `json:"dispatch"`
	Journal   Journal        `json:"journal"`
	Metrics   Metrics        `json:"metrics"`
	Log       logging.Config `json:"log"`
	// Strict fails the whole load on any malformed schedule entry.
	Strict bool `json:"strict"`

	// Schedule holds the accepted static schedule entries in file order.
	Schedule []protocol.Command `json:"-"`
	// Diagnostics lists every rejected schedule entry.
	Diagnostics []Diagnostic `json:"-"`
	// Source is the file the configuration was read from, or "" for defaults.
	Source string `json:"-"`
	// Paths are the resolved state locations.
	Paths *Paths `json:"-"`
}

// Default returns the configuration used when no file is present.
func Default(paths *Paths) *Config {
	if paths == nil {
		paths = &Paths{}
	}
	return &Config{
		API: API{Host: protocol.DefaultAPIHost, Port: protocol.DefaultAPIPort},
		Worker: Worker{
			StopTimeout: Duration(DefaultStopTimeout),
			OutputLog:   paths.WorkerLog,
		},
		Transport: Transport{
			Name:         protocol.DefaultEndpointName,
			Address:      paths.Endpoint,
			DrainEvery:   DefaultDrainEvery,
			DedupeWindow: DefaultDedupeWindow,
			BufferSize:   DefaultBufferSize,
		},
		Journal: Journal{Path: paths.JournalPath},
		Log:     logging.Config{Level: "info"},
		Paths:   paths,
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.API.Host == "" {
		errs = append(errs, errors.New("api.host is required"))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.Transport.Name == "" && c.Transport.Address == "" {
		errs = append(errs, errors.New("transport.name is required"))
	}
	if c.Transport.DrainEvery < 1 {
		errs = append(errs, errors.New("transport.drain_every must be at least 1"))
	}
	if c.Transport.DedupeWindow < 1 {
		errs = append(errs, errors.New("transport.dedupe_window must be at least 1"))
	}
	if c.Transport.BufferSize < 1 {
		errs = append(errs, errors.New("transport.buffer_size must be at least 1"))
	}
	if c.Worker.StopTimeout < 0 || c.Dispatch.CallTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
