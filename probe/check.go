package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

const maxBanner = 512

// Result is the outcome of Check.
type Result struct {
	Address   string        `json:"address"`
	Connected bool          `json:"connected"`
	Banner    string        `json:"banner,omitempty"`
	Latency   time.Duration `json:"latency"`
	Err       error         `json:"-"`
}

// OK reports whether the address accepted the connection.
func (r Result) OK() bool {
	return r.Connected && r.Err == nil
}

// Check connects to address, waits up to timeout for a first line from the
// server and disconnects. Addresses use the server interface syntax: a path
// or "unix:path" is a local socket, anything else is host:port.
//
// Parameters:
//   - ctx: Cancels the probe
//   - address: Target to probe
//   - timeout: Bounds the dial and, separately, the wait for a banner
//
// Returns:
//   - The probe result. A server that accepts and then says nothing or
//     closes the connection still counts as connected.
func Check(ctx context.Context, address string, timeout time.Duration) Result {
	network, addr := splitAddress(address)
	res := Result{Address: address}

	var (
		buf  bytes.Buffer
		done = make(chan struct{})
		once bool
	)
	finish := func() {
		if !once {
			once = true
			close(done)
		}
	}

	// Handlers run serialized, so buf and once need no further locking.
	c := NewClient(Config{Network: network, Address: addr, DialTimeout: timeout}, Handlers{
		OnData: func(data []byte) {
			buf.Write(data)
			if bytes.IndexByte(buf.Bytes(), '\n') >= 0 || buf.Len() >= maxBanner {
				finish()
			}
		},
		OnState: func(ev StateEvent) {
			if ev.State == Disconnected {
				finish()
			}
		},
	})

	start := time.Now()
	if err := c.Connect(ctx); err != nil {
		res.Err = err
		res.Latency = time.Since(start)
		return res
	}
	res.Connected = true
	res.Latency = time.Since(start)

	timer := time.NewTimer(timeout)
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	timer.Stop()
	_ = c.Close()

	line, _, _ := strings.Cut(buf.String(), "\n")
	res.Banner = strings.TrimRight(line, "\r")
	return res
}

func splitAddress(address string) (network, addr string) {
	if path, ok := strings.CutPrefix(address, "unix:"); ok {
		return "unix", path
	}
	if strings.HasPrefix(address, "/") || strings.HasPrefix(address, "./") || strings.HasPrefix(address, "../") {
		return "unix", address
	}

	return "tcp", address
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
