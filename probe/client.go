// Package probe is a small client for checking that server interfaces accept
// connections. Client reports state changes, received data and errors to
// registered handlers; Check builds a one-shot liveness probe on top of it.
package probe

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota // not connected, may Connect
	Connecting                // dial in progress
	Connected                 // reading
	Closed                    // closed for good
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("probe client closed")
	// ErrBusy is returned by Connect while connected or connecting.
	ErrBusy = errors.New("probe client already connected")
	// ErrNotConnected is returned by Send without a connection.
	ErrNotConnected = errors.New("probe client not connected")
)

// StateEvent describes a state change. Err is set when the change was caused
// by a failure.
type StateEvent struct {
	State   State
	Address string
	Time    time.Time
	Err     error
}

// Handlers receive client events. They run on the client's goroutines, one
// event at a time and in order, and must not block for long. Nil handlers
// are skipped.
type Handlers struct {
	OnState func(StateEvent)
	OnData  func(data []byte)
	OnError func(err error)
}

// Config configures a Client.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	Address string
	// DialTimeout bounds Connect in addition to its context. Default: 10s.
	DialTimeout time.Duration
	// WriteTimeout bounds each Send; 0 means no limit.
	WriteTimeout time.Duration
	// ReadBufferSize is the maximum chunk passed to OnData. Default: 4096.
	ReadBufferSize int
}

// Client is a single connection with event callbacks.
type Client struct {
	cfg      Config
	handlers Handlers

	mu     sync.Mutex
	events sync.Mutex
	conn   net.Conn
	state  State
	wg     sync.WaitGroup
}

// NewClient creates a disconnected client.
//
// Parameters:
//   - cfg: Target and timeouts
//   - h: Event handlers
//
// Returns:
//   - The client; call Close to release it
func NewClient(cfg Config, h Handlers) *Client {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}

	return &Client{cfg: cfg, handlers: h}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the configured address and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting, Connected:
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, c.cfg.Network, c.cfg.Address)

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = Disconnected
		c.mu.Unlock()
		c.emitError(err)
		c.emitState(Disconnected, err)
		return err
	}
	c.conn = conn
	c.state = Connected
	c.wg.Add(1)
	c.mu.Unlock()

	c.emitState(Connected, nil)
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.emit(func() {
				if c.handlers.OnData != nil {
					c.handlers.OnData(data)
				}
			})
		}
		if err != nil {
			c.lost(conn, err)
			return
		}
	}
}

// lost moves to Disconnected unless the connection was replaced or closed
// locally.
func (c *Client) lost(conn net.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	_ = conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if err != nil && !isEOF(err) {
		c.emitError(err)
	}
	c.emitState(Disconnected, err)
}

// Send writes data to the connection.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state == Closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		return err
	}
	return nil
}

// Disconnect closes the current connection; Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.state == Connected {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.wg.Wait()
	c.emitState(Disconnected, nil)
	return err
}

// Close disconnects for good. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	c.emitState(Closed, nil)
	return nil
}

func (c *Client) emit(f func()) {
	c.events.Lock()
	defer c.events.Unlock()
	f()
}

func (c *Client) emitState(s State, err error) {
	c.emit(func() {
		if c.handlers.OnState != nil {
			c.handlers.OnState(StateEvent{State: s, Address: c.cfg.Address, Time: time.Now(), Err: err})
		}
	})
}

func (c *Client) emitError(err error) {
	c.emit(func() {
		if c.handlers.OnError != nil {
			c.handlers.OnError(err)
		}
	})
}
