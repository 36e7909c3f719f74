package server

import (
	"context"
	"errors"
	"fmt"
)

// Handler runs the application protocol for one session. ProcessSession owns
// the connection until it returns; the server then frees the session. ctx is
// cancelled only by an immediate stop.
type Handler interface {
	ProcessSession(ctx context.Context, sess *Session)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sess *Session)

// ProcessSession implements Handler.
func (f HandlerFunc) ProcessSession(ctx context.Context, sess *Session) {
	f(ctx, sess)
}

// The optional hook interfaces below are discovered on the Handler and on any
// value passed to WithHooks. A non-nil error means "refuse".

// ServerStarter runs after interfaces are bound and before workers and the
// accept loop start. An error aborts Start.
type ServerStarter interface {
	ServerStart(s *Server) error
}

// ServerStopper runs after all workers terminated, before interfaces close.
type ServerStopper interface {
	ServerStop(s *Server)
}

// WorkerCreator initializes worker-local state (Worker.Data). An error keeps
// the worker out of the pool.
type WorkerCreator interface {
	WorkerCreate(w *Worker) error
}

// WorkerCanceler is asked to unwind a worker during an immediate stop, in
// addition to the built-in cancellation.
type WorkerCanceler interface {
	WorkerCancel(w *Worker)
}

// WorkerFreer releases worker-local state when a worker leaves the pool.
type WorkerFreer interface {
	WorkerFree(w *Worker)
}

// SessionCreator initializes session-local state right after accept. An
// error closes the connection.
type SessionCreator interface {
	SessionCreate(sess *Session) error
}

// SessionAcceptor decides admission before a session is queued. An error
// rejects the session, which is freed without being processed.
type SessionAcceptor interface {
	AcceptSession(sess *Session) error
}

// SessionFreer releases session-local state. It runs exactly once per
// session that passed creation, processed or not.
type SessionFreer interface {
	SessionFree(sess *Session)
}

// ErrRejected is wrapped by Dispatch when a session is refused.
var ErrRejected = errors.New("session rejected")

type hookSet struct {
	serverStart   []ServerStarter
	serverStop    []ServerStopper
	workerCreate  []WorkerCreator
	workerCancel  []WorkerCanceler
	workerFree    []WorkerFreer
	sessionCreate []SessionCreator
	sessionAccept []SessionAcceptor
	sessionFree   []SessionFreer
}

func (h *hookSet) add(v any) {
	if v == nil {
		return
	}

	if x, ok := v.(ServerStarter); ok {
		h.serverStart = append(h.serverStart, x)
	}
	if x, ok := v.(ServerStopper); ok {
		h.serverStop = append(h.serverStop, x)
	}
	if x, ok := v.(WorkerCreator); ok {
		h.workerCreate = append(h.workerCreate, x)
	}
	if x, ok := v.(WorkerCanceler); ok {
		h.workerCancel = append(h.workerCancel, x)
	}
	if x, ok := v.(WorkerFreer); ok {
		h.workerFree = append(h.workerFree, x)
	}
	if x, ok := v.(SessionCreator); ok {
		h.sessionCreate = append(h.sessionCreate, x)
	}
	if x, ok := v.(SessionAcceptor); ok {
		h.sessionAccept = append(h.sessionAccept, x)
	}
	if x, ok := v.(SessionFreer); ok {
		h.sessionFree = append(h.sessionFree, x)
	}
}

func (h *hookSet) startServer(s *Server) error {
	for i, x := range h.serverStart {
		if err := x.ServerStart(s); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopper, ok := h.serverStart[j].(ServerStopper); ok {
					stopper.ServerStop(s)
				}
			}
			return err
		}
	}

	return nil
}

func (h *hookSet) stopServer(s *Server) {
	for i := len(h.serverStop) - 1; i >= 0; i-- {
		h.serverStop[i].ServerStop(s)
	}
}

func (h *hookSet) createWorker(w *Worker) error {
	for i, x := range h.workerCreate {
		if err := x.WorkerCreate(w); err != nil {
			for j := i - 1; j >= 0; j-- {
				if freer, ok := h.workerCreate[j].(WorkerFreer); ok {
					freer.WorkerFree(w)
				}
			}
			return err
		}
	}

	return nil
}

func (h *hookSet) cancelWorker(w *Worker) {
	for _, x := range h.workerCancel {
		x.WorkerCancel(w)
	}
}

func (h *hookSet) freeWorker(w *Worker) {
	for i := len(h.workerFree) - 1; i >= 0; i-- {
		h.workerFree[i].WorkerFree(w)
	}
}

func (h *hookSet) createSession(sess *Session) error {
	for i, x := range h.sessionCreate {
		if err := x.SessionCreate(sess); err != nil {
			for j := i - 1; j >= 0; j-- {
				if freer, ok := h.sessionCreate[j].(SessionFreer); ok {
					freer.SessionFree(sess)
				}
			}
			return err
		}
	}

	return nil
}

func (h *hookSet) acceptSession(sess *Session) error {
	for _, x := range h.sessionAccept {
		if err := x.AcceptSession(sess); err != nil {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}

	return nil
}

func (h *hookSet) freeSession(sess *Session) {
	for i := len(h.sessionFree) - 1; i >= 0; i-- {
		h.sessionFree[i].SessionFree(sess)
	}
}
