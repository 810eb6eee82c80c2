package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tcon/pkg/protocol"
)

// newSubmitCmd creates the "tcon submit" subcommand.
func newSubmitCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "submit [file|-]",
		Short: "Submit a command to a running worker",
		Long: `Posts one {"command","time","payload"} JSON document to the worker's
/commands endpoint. Reads stdin when no file or "-" is given. The command is
checked locally before it is sent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			body, err := readInput(src, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if addr == "" {
				cfg, logs, err := loadConfig(*configPath, "", "", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				_ = logs.Close()
				addr = cfg.API.Addr()
			}
			return runSubmit(cmd.Context(), addr, body, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "worker host:port (default from config)")

	return cmd
}

func readInput(src string, stdin io.Reader) ([]byte, error) {
	if src == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(src) //nolint:gosec // user-supplied input file
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	return data, nil
}

// runSubmit validates body as a command and posts it to the worker at addr.
func runSubmit(ctx context.Context, addr string, body []byte, out io.Writer) error {
	var cmd protocol.Command
	if err := cmd.UnmarshalJSON(body); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/commands"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("worker rejected command (%s): %s", resp.Status, strings.TrimSpace(string(reply)))
	}
	fmt.Fprintln(out, strings.TrimSpace(string(reply)))
	return nil
}
