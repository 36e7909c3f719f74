//go:build unix

package sigctl

import (
	"os"

	"golang.org/x/sys/unix"
)

var gracefulSignal os.Signal = unix.SIGQUIT

func controlSignals() []os.Signal {
	return []os.Signal{unix.SIGHUP, unix.SIGQUIT, unix.SIGTERM, unix.SIGINT}
}

func isReload(sig os.Signal) bool {
	return sig == unix.SIGHUP
}
