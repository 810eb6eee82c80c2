package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"tcon/pkg/protocol"
)

// ErrDuplicateHandler is returned when a kind already has a different handler.
var ErrDuplicateHandler = errors.New("handler already registered")

// Registry holds exactly one handler per command kind. It is built once at
// startup and read-only afterwards.
type Registry struct {
	log      *slog.Logger
	handlers map[protocol.Kind]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, handlers: make(map[protocol.Kind]Handler)}
}

// Register binds h to kind. Registering the same function again is a no-op;
// registering a different one is logged and rejected, and the first
// registration stays in effect.
func (r *Registry) Register(kind protocol.Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("register %q: unknown command kind", kind)
	}
	if h == nil || reflect.ValueOf(h).IsNil() {
		return fmt.Errorf("register %s: nil handler", kind)
	}
	existing, ok := r.handlers[kind]
	if !ok {
		r.handlers[kind] = h
		return nil
	}
	if sameHandler(existing, h) {
		return nil
	}
	r.log.Warn("handler already registered; ignoring", "kind", kind)
	return fmt.Errorf("register %s: %w", kind, ErrDuplicateHandler)
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind protocol.Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []protocol.Kind {
	kinds := make([]protocol.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// sameHandler compares handler shape and code pointer.
func sameHandler(a, b Handler) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	return va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
}
