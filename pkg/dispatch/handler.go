// Package dispatch maps command kinds to simulation calls and executes due
// commands inside a failure boundary.
package dispatch

import (
	"context"

	"tcon/pkg/protocol"
)

// Handler executes one kind of command. It is implemented only by the three
// shapes below; Register inspects the shape once and the dispatcher never
// needs to know which one it holds.
type Handler interface {
	call(ctx context.Context, cmd protocol.Command, start protocol.SimTime) (int, error)
}

// NoArgHandler handles kinds that carry no payload.
type NoArgHandler func(ctx context.Context) (int, error)

// PayloadHandler handles kinds that need only their payload.
type PayloadHandler func(ctx context.Context, p protocol.Payload) (int, error)

// TimedHandler handles kinds that also need the effective start instant.
type TimedHandler func(ctx context.Context, p protocol.Payload, start protocol.SimTime) (int, error)

func (h NoArgHandler) call(ctx context.Context, _ protocol.Command, _ protocol.SimTime) (int, error) {
	return h(ctx)
}

func (h PayloadHandler) call(ctx context.Context, cmd protocol.Command, _ protocol.SimTime) (int, error) {
	return h(ctx, cmd.Payload)
}

func (h TimedHandler) call(ctx context.Context, cmd protocol.Command, start protocol.SimTime) (int, error) {
	return h(ctx, cmd.Payload, start)
}
