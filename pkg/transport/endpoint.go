// Package transport carries command envelopes from the worker process to the
// simulation host over a local, named, single-peer channel.
//
// The host owns a Server; the worker owns a Client. Both address the same
// Endpoint: a Unix domain socket, or a named pipe on Windows.
package transport

import (
	"context"
	"errors"
	"net"
)

// ErrEndpointInUse is returned by Listen when a live owner still answers on
// the endpoint.
var ErrEndpointInUse = errors.New("transport: endpoint in use")

// Endpoint is a named local rendezvous point.
type Endpoint interface {
	// Address is the socket path or pipe name.
	Address() string
	// Listen binds the endpoint, first removing any artifact left by a
	// crashed previous owner. It fails if a live owner still answers.
	Listen() (net.Listener, error)
	// Dial connects to a bound endpoint.
	Dial(ctx context.Context) (net.Conn, error)
	// Cleanup removes the endpoint's filesystem artifact, if any.
	Cleanup() error
	// WatchDir is the directory in which the endpoint appears when bound,
	// or "" if it has no filesystem presence.
	WatchDir() string
}
