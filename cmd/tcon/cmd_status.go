package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"tcon/pkg/config"
	"tcon/pkg/journal"
	"tcon/pkg/supervisor"
)

// newStatusCmd creates the "tcon status" subcommand.
func newStatusCmd(configPath *string) *cobra.Command {
	var withJournal bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show worker liveness and journal totals",
		Long: "Reports whether a worker is recorded and answering /health, and with\n" +
			"--journal the dispatched command counts per status.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logs, err := loadConfig(*configPath, "", "", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logs.Close() }()
			return runStatus(cmd.Context(), cfg, withJournal, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&withJournal, "journal", false, "include dispatch counts from the journal")

	return cmd
}

func runStatus(ctx context.Context, cfg *config.Config, withJournal bool, out io.Writer) error {
	if cfg.Paths != nil && cfg.Paths.PIDPath != "" {
		status, pid, err := WorkerStatus(cfg.Paths.PIDPath)
		if err != nil {
			return err
		}
		if pid != 0 {
			fmt.Fprintf(out, "worker process: %s (pid %d)\n", status, pid)
		} else {
			fmt.Fprintf(out, "worker process: %s\n", status)
		}
	}

	addr := cfg.API.Addr()
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := supervisor.ProbeHealth(probeCtx, &http.Client{Timeout: 2 * time.Second}, addr); err != nil {
		fmt.Fprintf(out, "worker api: down (%s): %v\n", addr, err)
	} else {
		fmt.Fprintf(out, "worker api: up (%s)\n", addr)
	}

	if !withJournal {
		return nil
	}
	r, err := journal.NewReader(cfg.Journal.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(out, "journal: none at %s\n", cfg.Journal.Path)
			return nil
		}
		return err
	}
	defer func() { _ = r.Close() }()

	counts, err := r.Counts(ctx)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		statuses = append(statuses, s)
		total += n
	}
	slices.Sort(statuses)
	fmt.Fprintf(out, "journal: %d dispatched (%s)\n", total, cfg.Journal.Path)
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-28s %d\n", s, counts[s])
	}
	return nil
}
