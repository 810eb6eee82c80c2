package main

import (
	"fmt"
	"io"

	"tcon/internal/logging"
	"tcon/pkg/config"
)

// loadConfig reads the configuration and builds loggers for it. levelFlag
// and logFile override the file when set. Config loading itself logs
// through a bootstrap logger at the overriding level.
func loadConfig(path, levelFlag, logFile string, stderr io.Writer) (*config.Config, *logging.Manager, error) {
	boot, err := logging.New(logging.Config{Level: firstNonEmpty(levelFlag, "warn")}, stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("--log-level: %w", err)
	}
	cfg, err := config.Load(path, boot.For("config"))
	if err != nil {
		return nil, nil, err
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}
	if logFile != "" {
		cfg.Log.LogFile = logFile
	}
	logs, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("log config: %w", err)
	}
	return cfg, logs, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
