package main

import (
	"github.com/spf13/cobra"

	"tcon/internal/version"
)

// newRootCmd creates the root tcon command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tcon",
		Short: "Time-scheduled traffic control for a running simulation",
		Long: "tcon feeds incidents, traffic-management measures and policies into a\n" +
			"running traffic simulation at the right simulated time.",
		Version:       version.Banner(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default $TCON_CONFIG or ~/.tcon/config.json)")

	cmd.AddCommand(
		newWorkerCmd(&configPath),
		newRunCmd(&configPath),
		newValidateCmd(),
		newSubmitCmd(&configPath),
		newStatusCmd(&configPath),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd prints the banner the supervisor checks before launching a
// worker.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version.Banner() + "\n"))
			return err
		},
	}
}
