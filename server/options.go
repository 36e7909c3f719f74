package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/metrics"
)

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid server options")

// Options is the static configuration of a Server. It is copied by New and
// never modified afterwards, so it can be read without synchronization.
type Options struct {
	// Name identifies the server in logs.
	Name string
	// Interfaces is a ';'-separated list of host[:port] entries or local
	// socket paths, e.g. "127.0.0.1:2525;[::1];/run/app.sock".
	Interfaces string
	// DefaultPort applies to entries without an explicit port.
	DefaultPort int
	// MinThreads workers are created at start; the pool never shrinks below.
	MinThreads int
	// MaxThreads caps the pool size.
	MaxThreads int
	// SpareThreads is the number of idle workers the pool tries to keep.
	SpareThreads int
	// QueueSize is the listen(2) backlog of every interface.
	QueueSize int
	// AcceptTimeout bounds each wait for an incoming connection, after which
	// the accept loop re-checks whether the server is still running.
	AcceptTimeout time.Duration
	// ReadTimeout is advisory; session handlers apply it to their own I/O.
	ReadTimeout time.Duration
	// IdleTimeout is how long a worker above MinThreads may stay idle before
	// it retires. Zero disables shrinking.
	IdleTimeout time.Duration
	// StopTimeout bounds queue drainage and worker termination during Stop.
	// Zero waits without limit.
	StopTimeout time.Duration
}

// DefaultOptions returns a configuration suitable for a small daemon; only
// Interfaces must be filled in.
func DefaultOptions() Options {
	return Options{
		Name:          "connserver",
		DefaultPort:   25,
		MinThreads:    2,
		MaxThreads:    16,
		SpareThreads:  2,
		QueueSize:     128,
		AcceptTimeout: time.Second,
		ReadTimeout:   5 * time.Minute,
		IdleTimeout:   time.Minute,
		StopTimeout:   30 * time.Second,
	}
}

// Validate checks the pool bounds, backlog, timeouts and interface list.
//
// Returns:
//   - An error wrapping ErrInvalidOptions describing the first problem found
func (o Options) Validate() error {
	switch {
	case strings.TrimSpace(o.Interfaces) == "":
		return fmt.Errorf("%w: empty interface list", ErrInvalidOptions)
	case o.DefaultPort < 0 || o.DefaultPort > 65535:
		return fmt.Errorf("%w: default port %d out of range", ErrInvalidOptions, o.DefaultPort)
	case o.MinThreads < 1:
		return fmt.Errorf("%w: min threads must be at least 1, got %d", ErrInvalidOptions, o.MinThreads)
	case o.MaxThreads < o.MinThreads:
		return fmt.Errorf("%w: max threads %d below min threads %d", ErrInvalidOptions, o.MaxThreads, o.MinThreads)
	case o.SpareThreads < 0:
		return fmt.Errorf("%w: negative spare threads %d", ErrInvalidOptions, o.SpareThreads)
	case o.QueueSize < 1:
		return fmt.Errorf("%w: queue size must be at least 1, got %d", ErrInvalidOptions, o.QueueSize)
	case o.AcceptTimeout <= 0:
		return fmt.Errorf("%w: accept timeout must be positive", ErrInvalidOptions)
	case o.ReadTimeout < 0 || o.IdleTimeout < 0 || o.StopTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	}

	return nil
}

// Option customizes a Server beyond its static Options.
type Option func(*Server)

// WithLogger sets the structured logger. Default: a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics publishes pool, queue and session metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the tracer used for per-session spans. Default: the global
// otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithHooks registers every lifecycle hook interface implemented by h (see
// hooks.go). Hooks registered this way run before the handler's own hooks,
// in registration order; free hooks run in reverse order.
func WithHooks(h any) Option {
	return func(s *Server) { s.hooks.add(h) }
}
