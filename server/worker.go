package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/perfmonitor"
)

// Worker is one pooled goroutine processing sessions one at a time.
type Worker struct {
	ID     uint32
	Server *Server
	// Data holds worker-local state set by WorkerCreator hooks.
	Data any

	ctx     context.Context
	cancel  context.CancelFunc
	current atomic.Pointer[Session]
	running atomic.Bool
	retired bool
	done    chan struct{}
	free    sync.Once
	wg      *sync.WaitGroup
	perf    *perfmonitor.PerformanceMonitor
	log     logger.Logger
}

// Session returns the session being processed, or nil while idle.
func (w *Worker) Session() *Session {
	return w.current.Load()
}

// Running reports whether the worker loop is still active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Done is closed when the worker loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Cancel asks the worker to stop: its context is cancelled and the
// connection of the session it is processing, if any, is closed so blocked
// I/O returns.
func (w *Worker) Cancel() {
	w.cancel()
	if sess := w.current.Load(); sess != nil {
		_ = sess.Close()
	}
}

// spawnWorker adds one worker unless the pool is at MaxThreads or closed.
// The worker is registered with the run's WaitGroup under poolMu so Stop,
// which closes the pool first, never waits while a worker is being added.
func (s *Server) spawnWorker() error {
	s.poolMu.Lock()
	if !s.poolOpen {
		s.poolMu.Unlock()
		return errPoolClosed
	}
	if s.total >= s.opts.MaxThreads {
		s.poolMu.Unlock()
		return fmt.Errorf("pool at max threads (%d)", s.opts.MaxThreads)
	}
	s.total++
	wg := s.workerWG
	wg.Add(1)
	s.poolMu.Unlock()

	id := s.workerIDs.Id()
	ctx, cancel := context.WithCancel(s.forceCtx)
	w := &Worker{
		ID:     id,
		Server: s,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wg:     wg,
		perf:   perfmonitor.NewPerformanceMonitor(),
		log:    s.log.With(logger.Field{Key: "worker", Value: id}),
	}

	if err := s.hooks.createWorker(w); err != nil {
		cancel()
		s.poolMu.Lock()
		s.total--
		s.poolMu.Unlock()
		wg.Done()
		s.metrics.WorkerCreateFailed()
		return fmt.Errorf("create worker %d: %w", id, err)
	}

	s.poolMu.Lock()
	if s.total > s.peak {
		s.peak = s.total
	}
	s.publishPoolLocked()
	s.poolMu.Unlock()

	w.running.Store(true)
	s.workers.Store(id, w)
	go w.run()

	w.log.Debug("worker started")
	return nil
}

func (w *Worker) run() {
	s := w.Server
	defer w.wg.Done()
	defer w.exit()

	for {
		if w.ctx.Err() != nil {
			return
		}

		sess, err := w.next()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && w.ctx.Err() == nil {
				if s.retire(w) {
					w.log.Debug("idle worker retired")
					return
				}
				continue
			}

			// Queue closed or worker cancelled.
			return
		}

		if w.ctx.Err() != nil {
			s.discard(sess)
			return
		}

		w.process(sess)
	}
}

// next waits for a session, bounded by the idle timeout when shrinking is
// enabled.
func (w *Worker) next() (*Session, error) {
	q := w.Server.queue
	if w.Server.opts.IdleTimeout <= 0 {
		return q.Dequeue(w.ctx)
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.Server.opts.IdleTimeout)
	defer cancel()
	return q.Dequeue(ctx)
}

func (w *Worker) process(sess *Session) {
	s := w.Server

	w.current.Store(sess)
	s.beginSession()

	ctx, span := s.tracer.Start(w.ctx, "session.process", trace.WithAttributes(
		attribute.String("session.id", sess.LogID),
		attribute.String("peer.address", sess.PeerAddr),
		attribute.String("server.interface", sess.Interface.String()),
	))

	w.perf.Start()
	if err := w.safeProcess(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	w.perf.Stop()
	span.End()

	s.metrics.SessionProcessed(w.perf.Elapsed())
	sess.log.Debug("session processed",
		logger.Field{Key: "worker", Value: w.ID},
		logger.Field{Key: "elapsed_ms", Value: w.perf.ElapsedMilliseconds()},
	)
	w.perf.Reset()

	sess.free()
	w.current.Store(nil)
	s.endSession()
}

func (w *Worker) safeProcess(ctx context.Context, sess *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session handler panic: %v", r)
			sess.log.Error("session handler panicked",
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
				logger.Field{Key: "stack", Value: string(debug.Stack())},
			)
		}
	}()

	w.Server.handler.ProcessSession(ctx, sess)
	return nil
}

// exit removes the worker from the pool and runs the free hooks once.
func (w *Worker) exit() {
	s := w.Server
	w.running.Store(false)
	w.cancel()

	s.poolMu.Lock()
	if !w.retired {
		s.total--
	}
	s.publishPoolLocked()
	s.poolMu.Unlock()

	s.workers.Delete(w.ID)
	w.release()
	close(w.done)
}

func (w *Worker) release() {
	w.free.Do(func() { w.Server.hooks.freeWorker(w) })
}

// retire lets an idle worker leave the pool if that keeps it at or above
// MinThreads.
func (s *Server) retire(w *Worker) bool {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()

	if s.total <= s.opts.MinThreads || !s.running.Load() {
		return false
	}

	s.total--
	w.retired = true
	return true
}

func (s *Server) beginSession() {
	s.poolMu.Lock()
	s.active++
	s.publishPoolLocked()
	s.poolMu.Unlock()
}

func (s *Server) endSession() {
	s.processed.Add(1)

	s.poolMu.Lock()
	s.active--
	s.publishPoolLocked()
	s.poolMu.Unlock()
}

func (s *Server) publishPoolLocked() {
	s.metrics.SetPool(s.total, s.active)
	if s.queue != nil {
		s.metrics.SetQueueLength(s.queue.Len())
	}
}

// discard frees a session that will never be processed.
func (s *Server) discard(sess *Session) {
	s.discarded.Add(1)
	s.metrics.SessionsDiscarded(1)
	sess.log.Warn("session discarded without processing")
	sess.free()
}
