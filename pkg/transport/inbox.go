package transport

import (
	"sync"

	"tcon/pkg/protocol"
)

// inbox is the unbounded queue between the server's reader goroutine and the
// host step thread. signal holds at most one pending wakeup.
type inbox struct {
	mu     sync.Mutex
	items  []protocol.Envelope
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (q *inbox) put(env protocol.Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *inbox) take() (protocol.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return protocol.Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = protocol.Envelope{}
	q.items = q.items[1:]
	return env, true
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
