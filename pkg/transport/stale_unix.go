//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// staleProbeTimeout bounds the dial used to tell a live socket from one
// left behind by a crashed host.
const staleProbeTimeout = time.Second

// removeStaleSocket prepares path for binding. A missing file is fine. A
// file nobody answers on, socket or not, is removed. A socket with a live
// listener is left alone and reported as ErrEndpointInUse.
func removeStaleSocket(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspect endpoint %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), staleProbeTimeout)
	defer cancel()
	var d net.Dialer
	if conn, err := d.DialContext(ctx, "unix", path); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s: %w", path, ErrEndpointInUse)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale endpoint %s: %w", path, err)
	}
	return nil
}
