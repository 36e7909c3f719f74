// Package server implements a protocol-agnostic connection server. It binds
// one or more interfaces, accepts connections, and hands each one as a
// Session through a FIFO queue to a pool of workers that run an
// application Handler. The pool grows to keep spare workers available, shrinks
// back when workers sit idle, and supports graceful (drain) and immediate
// (abort) shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyberinferno/go-connserver/idgenerator"
	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/metrics"
	"github.com/cyberinferno/go-connserver/queue"
	"github.com/cyberinferno/go-connserver/safemap"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop and Dispatch on a stopped server.
	ErrNotRunning = errors.New("server not running")
	// ErrStopTimeout is returned by Stop when workers did not terminate within
	// StopTimeout. They are abandoned and exit on their own later.
	ErrStopTimeout = errors.New("server stop timed out")
	// ErrWorkersAbandoned is returned by Start while workers abandoned by a
	// timed-out Stop are still running.
	ErrWorkersAbandoned = errors.New("workers from the previous run still running")

	errPoolClosed = errors.New("worker pool closed")
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Stats is a point-in-time view of the server.
type Stats struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Active    int    `json:"active"`
	Peak      int    `json:"peak"`
	Queued    int    `json:"queued"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Processed uint64 `json:"processed"`
	Discarded uint64 `json:"discarded"`
}

// Server owns the interfaces, the session queue and the worker pool.
type Server struct {
	opts    Options
	handler Handler
	hooks   hookSet
	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	ifaces    []*Interface
	ids       *idgenerator.IdGenerator
	workerIDs *idgenerator.IdGenerator
	workers   *safemap.SafeMap[uint32, *Worker]
	queue     *queue.Queue[*Session]

	running atomic.Bool
	lifeMu  sync.Mutex

	poolMu   sync.Mutex
	poolOpen bool
	total    int
	active   int
	peak     int

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	processed atomic.Uint64
	discarded atomic.Uint64

	acceptCancel context.CancelFunc
	acceptWG     sync.WaitGroup
	conns        chan acceptedConn

	forceCtx    context.Context
	forceCancel context.CancelFunc
	workerWG    *sync.WaitGroup

	done chan struct{}
}

type acceptedConn struct {
	conn  net.Conn
	iface *Interface
}

// New validates opts, parses the interface list and builds a stopped server.
//
// Parameters:
//   - opts: Static configuration (see DefaultOptions)
//   - handler: Processes each session; any hook interfaces it implements are
//     registered after those given with WithHooks
//   - options: Logger, metrics, tracer and extra hooks
//
// Returns:
//   - The server, or an error if the configuration is invalid
func New(opts Options, handler Handler, options ...Option) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidOptions)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ifaces, err := ParseInterfaces(opts.Interfaces, opts.DefaultPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	s := &Server{
		opts:      opts,
		handler:   handler,
		ifaces:    ifaces,
		log:       logger.NewNopLogger(),
		workerIDs: idgenerator.NewIdGenerator(0),
		workers:   safemap.NewSafeMap[uint32, *Worker](),
		done:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	s.hooks.add(handler)

	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/cyberinferno/go-connserver/server")
	}
	s.log = s.log.With(logger.Field{Key: "server", Value: opts.Name})
	close(s.done)

	return s, nil
}

// Options returns the configuration the server was built with.
func (s *Server) Options() Options {
	return s.opts
}

// Interfaces returns the configured interfaces. Listener is set while the
// server is running.
func (s *Server) Interfaces() []*Interface {
	return s.ifaces
}

// Logger returns the server logger.
func (s *Server) Logger() logger.Logger {
	return s.log
}

// Running reports whether the server accepts connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Workers returns a snapshot of the workers currently in the pool.
func (s *Server) Workers() []*Worker {
	return s.workers.Values()
}

// Stats returns counters and pool figures.
func (s *Server) Stats() Stats {
	s.poolMu.Lock()
	st := Stats{Workers: s.total, Active: s.active, Peak: s.peak}
	s.poolMu.Unlock()

	st.Running = s.running.Load()
	if q := s.queue; q != nil {
		st.Queued = q.Len()
	}
	st.Accepted = s.accepted.Load()
	st.Rejected = s.rejected.Load()
	st.Processed = s.processed.Load()
	st.Discarded = s.discarded.Load()
	return st
}

// Wait blocks until the server is stopped. It returns immediately on a
// server that was never started.
func (s *Server) Wait() {
	s.lifeMu.Lock()
	done := s.done
	s.lifeMu.Unlock()
	<-done
}

// Start binds every interface, runs the ServerStart hooks, creates
// MinThreads workers and launches the accept loop. Any failure rolls back
// what was set up and is returned. After a Stop that returned ErrStopTimeout,
// Start refuses until the abandoned workers have exited.
//
// Returns:
//   - ErrAlreadyRunning, ErrWorkersAbandoned, a bind error, a hook error or a
//     worker creation error
func (s *Server) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	s.poolMu.Lock()
	leftover := s.total
	s.poolMu.Unlock()
	if leftover > 0 {
		return fmt.Errorf("%w: %d", ErrWorkersAbandoned, leftover)
	}

	if err := bindInterfaces(s.ifaces, s.opts.QueueSize); err != nil {
		s.log.Error("interface binding failed", logger.Field{Key: "error", Value: err})
		return err
	}

	if err := s.hooks.startServer(s); err != nil {
		s.closeInterfaces()
		s.log.Error("server start hook failed", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server start hook: %w", err)
	}

	s.ids = idgenerator.NewIdGenerator(0)
	s.queue = queue.New(s.discard)
	s.forceCtx, s.forceCancel = context.WithCancel(context.Background())
	s.workerWG = new(sync.WaitGroup)
	s.poolMu.Lock()
	s.peak = 0
	s.poolOpen = true
	s.poolMu.Unlock()

	for range s.opts.MinThreads {
		if err := s.spawnWorker(); err != nil {
			s.closePool()
			s.forceCancel()
			s.queue.Close()
			s.workerWG.Wait()
			s.hooks.stopServer(s)
			s.closeInterfaces()
			s.log.Error("could not create initial workers", logger.Field{Key: "error", Value: err})
			return fmt.Errorf("start worker pool: %w", err)
		}
	}

	acceptCtx, cancel := context.WithCancel(context.Background())
	s.acceptCancel = cancel
	s.conns = make(chan acceptedConn)
	s.done = make(chan struct{})
	s.running.Store(true)

	s.acceptWG.Add(len(s.ifaces) + 1)
	go s.dispatchLoop(acceptCtx)
	for _, iface := range s.ifaces {
		go s.acceptLoop(acceptCtx, iface)
	}

	fields := make([]logger.Field, 0, len(s.ifaces)+1)
	for _, iface := range s.ifaces {
		fields = append(fields, logger.Field{Key: iface.Name, Value: addrString(iface.Addr())})
	}
	fields = append(fields, logger.Field{Key: "workers", Value: s.opts.MinThreads})
	s.log.Info(fmt.Sprintf("%s server started", s.opts.Name), fields...)

	return nil
}

// acceptLoop waits for connections on one interface. Each wait is bounded by
// AcceptTimeout so the loop notices shutdown even without traffic.
func (s *Server) acceptLoop(ctx context.Context, iface *Interface) {
	defer s.acceptWG.Done()

	var delay time.Duration
	for ctx.Err() == nil {
		iface.setDeadline(time.Now().Add(s.opts.AcceptTimeout))
		conn, err := iface.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = 0
				continue
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			s.log.Warn("accept error, retrying",
				logger.Field{Key: "interface", Value: iface.Name},
				logger.Field{Key: "error", Value: err},
				logger.Field{Key: "retry_in", Value: delay.String()},
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		delay = 0
		select {
		case s.conns <- acceptedConn{conn: conn, iface: iface}:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

// dispatchLoop serializes session creation, admission, queueing and pool
// sizing for every interface.
func (s *Server) dispatchLoop(ctx context.Context) {
	defer s.acceptWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ac := <-s.conns:
			if err := s.Dispatch(ac.conn, ac.iface); err != nil {
				s.log.Debug("connection not dispatched",
					logger.Field{Key: "interface", Value: ac.iface.Name},
					logger.Field{Key: "error", Value: err},
				)
			}
		}
	}
}

// Dispatch turns an accepted connection into a session: it runs the session
// creation and admission hooks, queues the session for a worker and grows
// the pool if spare capacity ran low. Embedders with their own listeners can
// call it directly. The connection is always consumed: on error it has been
// closed.
//
// Parameters:
//   - conn: The accepted connection
//   - iface: The interface it arrived on; may be nil for foreign listeners
//
// Returns:
//   - ErrNotRunning, a creation error, or an error wrapping ErrRejected
func (s *Server) Dispatch(conn net.Conn, iface *Interface) error {
	if !s.running.Load() {
		_ = conn.Close()
		return ErrNotRunning
	}

	if iface == nil {
		iface = &Interface{Name: "external", Network: addrNetwork(conn.LocalAddr())}
	}

	sess := s.newSession(conn, iface)
	if err := s.hooks.createSession(sess); err != nil {
		s.rejected.Add(1)
		s.metrics.SessionRejected()
		sess.log.Warn("session creation failed", logger.Field{Key: "error", Value: err})
		_ = sess.Close()
		return fmt.Errorf("create session: %w", err)
	}

	if err := s.hooks.acceptSession(sess); err != nil {
		s.rejected.Add(1)
		s.metrics.SessionRejected()
		sess.log.Info("session rejected", logger.Field{Key: "reason", Value: err.Error()})
		sess.free()
		return err
	}

	if err := s.queue.Enqueue(sess); err != nil {
		sess.free()
		return fmt.Errorf("queue session: %w", err)
	}

	s.accepted.Add(1)
	s.metrics.SessionAccepted()
	sess.log.Debug("session queued")

	s.growPool()
	return nil
}

func addrNetwork(a net.Addr) string {
	if a == nil {
		return ""
	}

	return a.Network()
}

// growPool adds one worker when fewer than SpareThreads workers are free to
// take new sessions. Sessions already waiting in the queue count against the
// idle workers that will pick them up.
func (s *Server) growPool() {
	s.poolMu.Lock()
	spare := s.total - s.active - s.queue.Len()
	grow := spare < s.opts.SpareThreads && s.total < s.opts.MaxThreads
	s.poolMu.Unlock()

	if !grow {
		return
	}

	if err := s.spawnWorker(); err != nil {
		s.log.Warn("could not grow worker pool", logger.Field{Key: "error", Value: err})
	}
}

// Stop shuts the server down. With slowQuit the queue is drained and
// in-flight sessions finish; if that takes longer than StopTimeout the stop
// escalates to an immediate one. Without slowQuit queued sessions are
// discarded, workers are cancelled and their connections closed; workers
// still running after StopTimeout are abandoned.
//
// Parameters:
//   - slowQuit: true for graceful drain, false for immediate abort
//
// Returns:
//   - ErrNotRunning, ErrStopTimeout, or nil
func (s *Server) Stop(slowQuit bool) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	mode := "immediate"
	if slowQuit {
		mode = "graceful"
	}
	s.log.Info(fmt.Sprintf("%s server stopping", s.opts.Name), logger.Field{Key: "mode", Value: mode})

	s.closePool()
	s.acceptCancel()
	for _, iface := range s.ifaces {
		iface.setDeadline(time.Now())
	}
	s.acceptWG.Wait()

	var err error
	if slowQuit {
		err = s.drain()
	} else {
		err = s.abort()
	}

	s.hooks.stopServer(s)
	s.closeInterfaces()

	s.poolMu.Lock()
	s.publishPoolLocked()
	s.poolMu.Unlock()

	close(s.done)
	s.log.Info(fmt.Sprintf("%s server stopped", s.opts.Name),
		logger.Field{Key: "mode", Value: mode},
		logger.Field{Key: "processed", Value: s.processed.Load()},
		logger.Field{Key: "discarded", Value: s.discarded.Load()},
	)

	return err
}

func (s *Server) drain() error {
	deadline := time.Now().Add(s.opts.StopTimeout)

	if !s.queue.WaitEmptyTimeout(s.opts.StopTimeout) {
		s.queue.Close()
		n := s.queue.RemoveAll()
		s.log.Warn("queue not drained before stop timeout", logger.Field{Key: "discarded", Value: n})
	}
	s.queue.Close()

	remaining := time.Duration(0)
	if s.opts.StopTimeout > 0 {
		remaining = max(time.Until(deadline), time.Millisecond)
	}

	if s.waitWorkers(remaining) {
		s.forceCancel()
		return nil
	}

	s.log.Warn("workers still busy at stop timeout, cancelling")
	return s.abort()
}

func (s *Server) abort() error {
	s.forceCancel()
	s.queue.Close()
	if n := s.queue.RemoveAll(); n > 0 {
		s.log.Warn("queued sessions discarded", logger.Field{Key: "count", Value: n})
	}

	s.workers.Range(func(_ uint32, w *Worker) bool {
		w.Cancel()
		s.hooks.cancelWorker(w)
		return true
	})

	if !s.waitWorkers(s.opts.StopTimeout) {
		s.log.Error("workers did not terminate, abandoning them", logger.Field{Key: "workers", Value: len(s.Workers())})
		return ErrStopTimeout
	}

	return nil
}

// waitWorkers waits for every worker goroutine to return. A non-positive d
// waits without limit.
func (s *Server) waitWorkers(d time.Duration) bool {
	wg := s.workerWG
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if d <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// closePool stops spawnWorker from adding workers to the current run.
func (s *Server) closePool() {
	s.poolMu.Lock()
	s.poolOpen = false
	s.poolMu.Unlock()
}

func (s *Server) closeInterfaces() {
	for _, iface := range s.ifaces {
		if err := iface.Close(); err != nil {
			s.log.Warn("interface close failed",
				logger.Field{Key: "interface", Value: iface.Name},
				logger.Field{Key: "error", Value: err},
			)
		}
	}
}
