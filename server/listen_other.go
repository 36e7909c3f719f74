//go:build !unix

package server

import (
	"context"
	"net"
)

// listen falls back to the runtime's defaults; the backlog is chosen by the
// platform.
func listen(network, address string, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), network, address)
}
