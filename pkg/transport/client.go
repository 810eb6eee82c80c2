package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tcon/pkg/protocol"
)

// ErrClosed is returned by Client.Send after Close.
var ErrClosed = errors.New("transport: client closed")

const (
	// DefaultBufferSize is the number of envelopes a client holds while the
	// host is unreachable.
	DefaultBufferSize = 1024
	// DefaultReconnectInterval is the base retry interval for dialing.
	DefaultReconnectInterval = 2 * time.Second
	// DefaultPollInterval is the fallback check for the endpoint appearing
	// when filesystem notifications are unavailable or missed.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultWriteTimeout bounds a single envelope write.
	DefaultWriteTimeout = 5 * time.Second
)

// ClientConfig holds client options. Zero values select the defaults.
type ClientConfig struct {
	BufferSize        int
	ReconnectInterval time.Duration
	PollInterval      time.Duration
	WriteTimeout      time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Client is the worker side of the channel. Send never blocks: envelopes are
// buffered and written by a background goroutine once the host's endpoint
// exists, so a worker may accept commands before the host is up. On a lost
// connection the client reconnects and resends whatever was not written.
type Client struct {
	ep  Endpoint
	cfg ClientConfig
	log *slog.Logger
	buf *Buffer

	wake chan struct{}
	done chan struct{}

	mu        sync.Mutex
	conn      net.Conn
	started   bool
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client for ep. Call Start to begin delivery.
func NewClient(ep Endpoint, cfg ClientConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		ep:   ep,
		cfg:  cfg,
		log:  log,
		buf:  NewBuffer(cfg.BufferSize),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It runs until ctx is done or Close
// is called. Starting twice is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.run(ctx)
}

// Send queues env for delivery. It returns ErrBufferFull when the host has
// been unreachable long enough to fill the buffer.
func (c *Client) Send(env protocol.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.buf.Add(env) {
		return ErrBufferFull
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of envelopes not yet written.
func (c *Client) Pending() int { return c.buf.Len() }

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops delivery. Unwritten envelopes are discarded and their command
// IDs logged.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		close(c.done)
		if conn != nil {
			_ = conn.Close()
		}
	})
	c.wg.Wait()
	if lost := c.buf.Drain(); len(lost) > 0 {
		ids := make([]string, len(lost))
		for i, env := range lost {
			ids[i] = env.Command.ID
		}
		c.log.Warn("client closed with undelivered commands", "count", len(lost), "ids", ids)
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return
		}
		c.setConn(conn)
		c.log.Info("connected to host", "address", c.ep.Address())

		err = c.pump(ctx, conn)
		_ = conn.Close()
		c.setConn(nil)
		if err == nil {
			return
		}
		c.log.Warn("connection to host lost; reconnecting", "address", c.ep.Address(), "error", err)
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// pump writes buffered envelopes until the connection fails (non-nil error)
// or the client stops (nil).
func (c *Client) pump(ctx context.Context, conn net.Conn) error {
	gone := watchPeer(conn)

	for {
		for {
			env, ok := c.buf.Peek()
			if !ok {
				break
			}
			line, err := env.Encode()
			if err != nil {
				c.log.Error("discarding unencodable command", "id", env.Command.ID, "error", err)
				c.buf.Pop()
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if _, err := conn.Write(line); err != nil {
				return &protocol.TransportError{Op: "write", Address: c.ep.Address(), Err: err}
			}
			c.buf.Pop()
		}

		select {
		case <-c.wake:
		case err := <-gone:
			return &protocol.TransportError{Op: "read", Address: c.ep.Address(), Err: err}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// watchPeer reports when the host closes conn. The host never writes, so
// any read result means the connection is finished.
func watchPeer(conn net.Conn) <-chan error {
	gone := make(chan error, 1)
	go func() {
		var b [1]byte
		_, err := conn.Read(b[:])
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		gone <- err
	}()
	return gone
}

// connect waits for the endpoint to exist and dials it, retrying with
// jitter until it succeeds or the client stops.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	for {
		if err := c.waitForEndpoint(ctx); err != nil {
			return nil, err
		}
		conn, err := c.ep.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		c.log.Debug("dial failed", "address", c.ep.Address(), "error", err)

		if err := c.sleep(ctx, c.retryInterval()); err != nil {
			return nil, err
		}
	}
}

// retryInterval is the reconnect interval with up to ±25% jitter.
func (c *Client) retryInterval() time.Duration {
	base := c.cfg.ReconnectInterval
	spread := int64(base / 4)
	if spread <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int64N(2*spread)) - time.Duration(spread) //nolint:gosec // jitter doesn't need crypto rand
	return base + jitter
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // propagated as a stop signal only
	}
}

// waitForEndpoint returns once the endpoint's filesystem artifact exists.
// Endpoints without one (named pipes) return immediately and rely on dial
// retries. fsnotify gives a prompt wakeup; the poll ticker covers platforms
// and filesystems where notifications are missed.
func (c *Client) waitForEndpoint(ctx context.Context) error {
	dir := c.ep.WatchDir()
	if dir == "" || exists(c.ep.Address()) {
		return nil
	}

	var events <-chan fsnotify.Event
	if err := os.MkdirAll(dir, 0o700); err == nil {
		if w, werr := fsnotify.NewWatcher(); werr == nil {
			defer w.Close()
			if aerr := w.Add(dir); aerr == nil {
				events = w.Events
			} else {
				c.log.Debug("endpoint watch unavailable; polling", "dir", dir, "error", aerr)
			}
		}
	}
	// Re-check after the watch is armed to close the race with a host that
	// bound between the first check and w.Add.
	if exists(c.ep.Address()) {
		return nil
	}

	c.log.Info("waiting for host endpoint", "address", c.ep.Address())
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == c.ep.Address() && ev.Has(fsnotify.Create) {
				return nil
			}
		case <-ticker.C:
			if exists(c.ep.Address()) {
				return nil
			}
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // propagated as a stop signal only
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
