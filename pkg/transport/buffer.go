package transport

import (
	"errors"
	"sync"

	"tcon/pkg/protocol"
)

// ErrBufferFull is returned by Client.Send when the outbound buffer is at
// capacity. Commands are never silently evicted.
var ErrBufferFull = errors.New("transport: send buffer full")

// Buffer is a bounded FIFO of envelopes awaiting delivery. When full it
// rejects new envelopes rather than evicting old ones.
type Buffer struct {
	mu   sync.Mutex
	envs []protocol.Envelope
	cap  int
}

// NewBuffer creates a buffer with the given maximum capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		envs: make([]protocol.Envelope, 0, capacity),
		cap:  capacity,
	}
}

// Add appends env. It reports false if the buffer is full.
func (b *Buffer) Add(env protocol.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.envs) >= b.cap {
		return false
	}
	b.envs = append(b.envs, env)
	return true
}

// Peek returns the oldest envelope without removing it.
func (b *Buffer) Peek() (protocol.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.envs) == 0 {
		return protocol.Envelope{}, false
	}
	return b.envs[0], true
}

// Pop removes the oldest envelope. It is called once that envelope has been
// written, so a failed write leaves it in place for the next connection.
func (b *Buffer) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.envs) == 0 {
		return
	}
	copy(b.envs, b.envs[1:])
	b.envs[len(b.envs)-1] = protocol.Envelope{}
	b.envs = b.envs[:len(b.envs)-1]
}

// Drain returns all buffered envelopes and clears the buffer.
func (b *Buffer) Drain() []protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.envs) == 0 {
		return nil
	}
	out := make([]protocol.Envelope, len(b.envs))
	copy(out, b.envs)
	b.envs = b.envs[:0]
	return out
}

// Len returns the number of buffered envelopes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.envs)
}
