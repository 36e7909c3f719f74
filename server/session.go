package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-connserver/logger"
)

// Session is the per-connection unit of work. It is owned by the accept path
// until queued, then by the queue, then by the single worker that dequeues
// it; fields need no locking while owned.
type Session struct {
	// ID is unique within one run of the server; LogID is unique across runs.
	ID    uint32
	LogID string

	Created   time.Time
	Server    *Server
	Interface *Interface
	Conn      net.Conn

	PeerAddr  string
	LocalAddr string
	// PeerName is the reverse DNS name of the peer when a resolver hook is
	// installed.
	PeerName string

	// Data holds application state set by session hooks.
	Data any

	log       logger.Logger
	closeOnce sync.Once
	closeErr  error
	freeOnce  sync.Once
}

func (s *Server) newSession(conn net.Conn, iface *Interface) *Session {
	id := s.ids.Id()
	sess := &Session{
		ID:        id,
		LogID:     s.ids.LogID(id),
		Created:   time.Now(),
		Server:    s,
		Interface: iface,
		Conn:      conn,
		PeerAddr:  addrString(conn.RemoteAddr()),
		LocalAddr: addrString(conn.LocalAddr()),
	}
	sess.log = s.log.With(
		logger.Field{Key: "session", Value: sess.LogID},
		logger.Field{Key: "peer", Value: sess.PeerAddr},
	)

	return sess
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}

	return a.String()
}

// Logger returns a logger tagged with the session id and peer address.
func (sess *Session) Logger() logger.Logger {
	if sess.log == nil {
		return logger.NewNopLogger()
	}

	return sess.log
}

// PeerIP returns the host part of PeerAddr, or PeerAddr itself when it has no
// port (local sockets, pipes).
func (sess *Session) PeerIP() string {
	host, _, err := net.SplitHostPort(sess.PeerAddr)
	if err != nil {
		return sess.PeerAddr
	}

	return host
}

// ReadTimeout returns the advisory read timeout configured on the server.
func (sess *Session) ReadTimeout() time.Duration {
	return sess.Server.opts.ReadTimeout
}

// Close closes the connection. Only the first call has an effect; it is safe
// to call from another goroutine to unblock pending I/O.
func (sess *Session) Close() error {
	sess.closeOnce.Do(func() {
		err := sess.Conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		sess.closeErr = err
	})

	return sess.closeErr
}

// free runs the session free hooks and closes the connection, exactly once.
func (sess *Session) free() {
	sess.freeOnce.Do(func() {
		sess.Server.hooks.freeSession(sess)
		_ = sess.Close()
	})
}
