// Package admin serves the HTTP side channel of a connection server: health,
// pool status and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/server"
)

// StatusSource reports the state of a connection server.
type StatusSource interface {
	Running() bool
	Stats() server.Stats
}

// NewRouter builds the admin routes:
//
//	GET /healthz  200 "ok" while the server runs, 503 otherwise
//	GET /status   server.Stats as JSON
//	GET /metrics  Prometheus exposition of gatherer
//
// Parameters:
//   - src: The server to report on
//   - gatherer: Metrics registry; nil uses prometheus.DefaultGatherer
//
// Returns:
//   - The router
func NewRouter(src StatusSource, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !src.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopped\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Stats())
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Server runs the admin router on its own listener.
type Server struct {
	http *http.Server
	log  logger.Logger
}

// NewServer creates an admin server for addr.
func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With(logger.Field{Key: "component", Value: "admin"}),
	}
}

// Run serves until ctx is cancelled, then shuts down with a short grace
// period. A failed bind is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("admin endpoint listening", logger.Field{Key: "addr", Value: ln.Addr().String()})

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
