//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

type pipeEndpoint struct {
	path string
}

// NewEndpoint returns the named pipe for name. dir is unused: pipes live in
// the pipe namespace, not the filesystem.
func NewEndpoint(_ string, name string) Endpoint {
	return &pipeEndpoint{path: pipePrefix + "tcon-" + name}
}

// EndpointAt returns the endpoint at an address produced by Address.
func EndpointAt(address string) Endpoint {
	return &pipeEndpoint{path: address}
}

func (e *pipeEndpoint) Address() string { return e.path }

func (e *pipeEndpoint) WatchDir() string { return "" }

// Listen creates the pipe. A pipe disappears with the process that owned it,
// so there is never a stale artifact to remove; a live owner makes the
// create fail.
func (e *pipeEndpoint) Listen() (net.Listener, error) {
	ln, err := winio.ListenPipe(e.path, &winio.PipeConfig{
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.path, err)
	}
	return ln, nil
}

func (e *pipeEndpoint) Dial(ctx context.Context) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, e.path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.path, err)
	}
	return conn, nil
}

func (e *pipeEndpoint) Cleanup() error { return nil }
