package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-connserver/metrics"
	"github.com/cyberinferno/go-connserver/server"
)

type fakeServer struct {
	running bool
	stats   server.Stats
}

func (f *fakeServer) Running() bool       { return f.running }
func (f *fakeServer) Stats() server.Stats { return f.stats }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	src := &fakeServer{running: true}
	r := NewRouter(src, prometheus.NewRegistry())

	rec := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	src.running = false
	rec = get(t, r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Status(t *testing.T) {
	src := &fakeServer{running: true, stats: server.Stats{
		Running:  true,
		Workers:  3,
		Active:   1,
		Queued:   2,
		Accepted: 10,
		Rejected: 1,
	}}
	rec := get(t, NewRouter(src, prometheus.NewRegistry()), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got server.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.stats, got)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	m.SessionAccepted()
	m.SetPool(4, 1)

	rec := get(t, NewRouter(&fakeServer{}, reg), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "connserver_sessions_accepted_total 1")
	assert.Contains(t, body, "connserver_workers 4")
}

func TestRouter_NotFound(t *testing.T) {
	rec := get(t, NewRouter(&fakeServer{}, nil), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Serve(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ln.Addr().String(), NewRouter(&fakeServer{running: true}, prometheus.NewRegistry()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not shut down")
	}
}

func TestServer_RunBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(ln.Addr().String(), http.NotFoundHandler(), nil)
	assert.Error(t, s.Run(context.Background()))
}
