package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tcon/pkg/protocol"
)

// readBufferSize is the scanner's initial buffer; lines may grow up to
// protocol.MaxEnvelopeSize.
const readBufferSize = 64 * 1024

// Server is the host side of the channel. It accepts at most one peer at a
// time: a connection becomes the peer when it sends its first line, and then
// replaces the previous one. A connection that closes without sending, such
// as another host probing whether the endpoint is live, never disturbs the
// current peer. Envelopes are read on a background goroutine into an
// in-memory inbox that the host drains from its step thread without blocking.
type Server struct {
	ep  Endpoint
	log *slog.Logger

	inbox  *inbox
	notify atomic.Bool

	received atomic.Uint64
	dropped  atomic.Uint64

	mu   sync.Mutex
	ln   net.Listener
	peer net.Conn
	// conns holds every open connection, attached or not, with a channel
	// closed when its read loop ends.
	conns map[net.Conn]chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server for ep. Call Start to bind it.
func NewServer(ep Endpoint, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ep: ep, log: log, inbox: newInbox(), conns: make(map[net.Conn]chan struct{})}
}

// Address returns the endpoint address.
func (s *Server) Address() string { return s.ep.Address() }

// Start binds the endpoint and begins accepting peers. Starting a running
// server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return nil
	}
	ln, err := s.ep.Listen()
	if err != nil {
		return &protocol.TransportError{Op: "listen", Address: s.ep.Address(), Err: err}
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.acceptLoop(ln, s.done)

	s.log.Info("transport listening", "address", s.ep.Address())
	return nil
}

// Stop closes the listener and the current peer and removes the endpoint.
// Messages already in the inbox stay available. Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return nil
	}
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.ln, s.peer = nil, nil
	close(s.done)
	s.mu.Unlock()

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, &protocol.TransportError{Op: "close", Address: s.ep.Address(), Err: err})
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	s.wg.Wait()

	if err := s.ep.Cleanup(); err != nil {
		errs = append(errs, &protocol.TransportError{Op: "cleanup", Address: s.ep.Address(), Err: err})
	}
	s.log.Info("transport stopped", "address", s.ep.Address(), "received", s.received.Load(), "dropped", s.dropped.Load())
	return errors.Join(errs...)
}

// Quiesce waits up to timeout for every open connection to reach end of
// stream, so that whatever a departed peer wrote is in the inbox. Call it
// after the peer process has exited and before the final drain. It reports
// false if a connection was still open when the timeout expired.
func (s *Server) Quiesce(timeout time.Duration) bool {
	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(s.conns))
	for _, done := range s.conns {
		waits = append(waits, done)
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range waits {
		select {
		case <-done:
		case <-timer.C:
			return false
		}
	}
	return true
}

// Close is Stop.
func (s *Server) Close() error { return s.Stop() }

// Poll reports whether at least one envelope is waiting.
func (s *Server) Poll() bool { return s.inbox.len() > 0 }

// Pending returns the number of waiting envelopes.
func (s *Server) Pending() int { return s.inbox.len() }

// Recv blocks until an envelope is available or ctx is done.
func (s *Server) Recv(ctx context.Context) (protocol.Envelope, error) {
	for {
		if env, ok := s.inbox.take(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err() //nolint:wrapcheck // caller inspects context errors directly
		case <-s.inbox.signal:
		}
	}
}

// TryRecvAll yields the envelopes waiting when iteration starts, oldest
// first, and never blocks. Envelopes not consumed because the caller broke
// out early stay queued.
func (s *Server) TryRecvAll() iter.Seq[protocol.Envelope] {
	return func(yield func(protocol.Envelope) bool) {
		n := s.inbox.len()
		for range n {
			env, ok := s.inbox.take()
			if !ok || !yield(env) {
				return
			}
		}
	}
}

// Notified reports whether a message arrived since the last ClearNotify.
// Readers can use it as a cheap hint before draining.
func (s *Server) Notified() bool { return s.notify.Load() }

// ClearNotify resets the arrival flag.
func (s *Server) ClearNotify() { s.notify.Store(false) }

// Received returns the number of envelopes accepted into the inbox.
func (s *Server) Received() uint64 { return s.received.Load() }

// Dropped returns the number of malformed lines discarded.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Connected reports whether a peer is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

func (s *Server) acceptLoop(ln net.Listener, done <-chan struct{}) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "address", s.ep.Address(), "error", err)
			continue
		}

		finished, ok := s.track(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		go s.readLoop(conn, finished)
	}
}

// track registers conn and its read loop. It reports false if the server is
// stopping.
func (s *Server) track(conn net.Conn) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil, false
	}
	done := make(chan struct{})
	s.conns[conn] = done
	s.wg.Add(1)
	return done, true
}

// attach makes conn the current peer, closing any previous one. It reports
// false if the server is stopping.
func (s *Server) attach(conn net.Conn) bool {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return false
	}
	old := s.peer
	s.peer = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
		s.log.Info("peer replaced", "address", s.ep.Address())
	} else {
		s.log.Info("peer connected", "address", s.ep.Address())
	}
	return true
}

func (s *Server) readLoop(conn net.Conn, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		current := s.peer == conn
		if current {
			s.peer = nil
		}
		s.mu.Unlock()
		if current {
			s.log.Info("peer disconnected; waiting for a new peer", "address", s.ep.Address())
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, readBufferSize), protocol.MaxEnvelopeSize)
	attached := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !attached {
			if !s.attach(conn) {
				return
			}
			attached = true
		}
		env, err := protocol.DecodeEnvelope(line)
		if err != nil {
			s.dropped.Add(1)
			s.log.Warn("dropping malformed message", "error", err)
			continue
		}
		s.inbox.put(env)
		s.received.Add(1)
		s.notify.Store(true)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("peer read ended", "error", err)
	}
}
