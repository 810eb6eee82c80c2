// Package main implements the tcon-dash journal dashboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"tcon/pkg/config"
	"tcon/pkg/journal"
)

// snapshot is the --robot output.
type snapshot struct {
	Journal string          `json:"journal"`
	Counts  map[string]int  `json:"counts"`
	Events  []journal.Event `json:"events"`
}

// robotMode outputs a JSON snapshot of the journal.
func robotMode(path string, msg snapshotMsg) ([]byte, error) {
	if msg.err != nil {
		return nil, msg.err
	}
	data, err := json.Marshal(snapshot{Journal: path, Counts: msg.counts, Events: msg.events})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func newRootCmd() *cobra.Command {
	var (
		path  string
		limit int
		robot bool
	)

	cmd := &cobra.Command{
		Use:           "tcon-dash",
		Short:         "Live view of the tcon outcome journal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				paths, err := config.ResolvePaths()
				if err != nil {
					return err
				}
				path = paths.JournalPath
			}
			if robot {
				ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
				defer cancel()
				data, err := robotMode(path, fetchSnapshot(ctx, path, journal.QueryOpts{Limit: limit}))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}

			watcher := newJournalWatcher(path)
			defer func() { _ = watcher.Close() }()
			p := tea.NewProgram(newModel(path, limit, watcher), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "journal", "", "journal database (default $TCON_JOURNAL_DB or ~/.tcon/journal.db)")
	cmd.Flags().IntVar(&limit, "limit", 500, "newest events to show")
	cmd.Flags().BoolVar(&robot, "robot", false, "print a JSON snapshot and exit")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
