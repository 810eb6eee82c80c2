//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
)

type socketEndpoint struct {
	path string
}

// NewEndpoint returns the endpoint for name under dir: <dir>/<name>.sock.
func NewEndpoint(dir, name string) Endpoint {
	return &socketEndpoint{path: filepath.Join(dir, name+".sock")}
}

// EndpointAt returns the endpoint at an address produced by Address.
func EndpointAt(address string) Endpoint {
	return &socketEndpoint{path: address}
}

func (e *socketEndpoint) Address() string { return e.path }

func (e *socketEndpoint) WatchDir() string { return filepath.Dir(e.path) }

func (e *socketEndpoint) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeStaleSocket(e.path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", e.path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.path, err)
	}
	return ln, nil
}

func (e *socketEndpoint) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", e.path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.path, err)
	}
	return conn, nil
}

func (e *socketEndpoint) Cleanup() error {
	if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove socket %s: %w", e.path, err)
	}
	return nil
}
