package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tcon/pkg/config"
	"tcon/pkg/protocol"
)

// newValidateCmd creates the "tcon validate" subcommand.
func newValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check schedule files",
		Long: `Decodes and validates every entry of each schedule file (JSON, YAML or
TOML) and prints one diagnostic per rejected entry. With --strict any
rejected entry fails the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail on any rejected entry")

	return cmd
}

func runValidate(out io.Writer, paths []string, strict bool) error {
	rejected := 0
	for _, path := range paths {
		cmds, diags, err := config.LoadSchedule(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d accepted, %d rejected\n", path, len(cmds), len(diags))
		for _, d := range diags {
			fmt.Fprintf(out, "  %s\n", d)
		}
		rejected += len(diags)
	}
	if strict && rejected > 0 {
		return fmt.Errorf("%d schedule entries rejected", rejected)
	}
	return nil
}

// loadScheduleFile loads one schedule file. In strict mode any rejected
// entry fails the load.
func loadScheduleFile(path string, strict bool) ([]protocol.Command, []config.Diagnostic, error) {
	cmds, diags, err := config.LoadSchedule(path)
	if err != nil {
		return nil, nil, err
	}
	if strict && len(diags) > 0 {
		return nil, nil, fmt.Errorf("schedule %s: %w", path, &config.ScheduleError{Diagnostics: diags})
	}
	return cmds, diags, nil
}
