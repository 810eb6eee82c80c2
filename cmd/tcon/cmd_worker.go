package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tcon/pkg/api"
	"tcon/pkg/host"
	"tcon/pkg/telemetry"
	"tcon/pkg/transport"
)

type workerOpts struct {
	configPath string
	endpoint   string
	listen     string
	logLevel   string
	logFile    string
}

// newWorkerCmd creates the "tcon worker" subcommand: the ingestion process
// that accepts submissions over HTTP and forwards them to the host.
func newWorkerCmd(configPath *string) *cobra.Command {
	var opts workerOpts

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the command ingestion worker",
		Long: `Starts the HTTP submission API and forwards every accepted command to
the host over the transport endpoint. Submissions made before the host is
listening are buffered and delivered once it is.

This command is typically launched by the host plugin, not by humans.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.configPath = *configPath
			return runWorker(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "transport address of the host (default from config)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP host:port (default from config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file as well")

	return cmd
}

// runWorker serves the submission API until SIGTERM or SIGINT.
func runWorker(ctx context.Context, opts workerOpts) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, logs, err := loadConfig(opts.configPath, opts.logLevel, opts.logFile, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logs.Close() }()
	log := logs.For("worker")

	ep := host.EndpointFor(cfg)
	if opts.endpoint != "" {
		ep = transport.EndpointAt(opts.endpoint)
	}
	listen := cfg.API.Addr()
	if opts.listen != "" {
		listen = opts.listen
	}

	client := transport.NewClient(ep, transport.ClientConfig{BufferSize: cfg.Transport.BufferSize}, logs.For("transport"))
	client.Start(ctx)
	defer func() { _ = client.Close() }()

	metrics, err := telemetry.NewAPICollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("worker metrics: %w", err)
	}

	if cfg.Paths != nil && cfg.Paths.PIDPath != "" {
		if err := WritePIDFile(cfg.Paths.PIDPath, os.Getpid()); err != nil {
			log.Warn("pid file not written", "error", err)
		} else {
			defer func() { _ = RemovePIDFile(cfg.Paths.PIDPath) }()
		}
	}

	log.Info("worker started", "pid", os.Getpid(), "endpoint", ep.Address(), "listen", listen)
	srv := api.New(client, metrics, logs.For("api"))
	if err := srv.ListenAndServe(ctx, listen); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	log.Info("worker stopped", "undelivered", client.Pending())
	return nil
}
