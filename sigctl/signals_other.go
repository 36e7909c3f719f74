//go:build !unix

package sigctl

import "os"

// Without POSIX signals every stop is immediate and there is no reload.
var gracefulSignal os.Signal

func controlSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func isReload(os.Signal) bool {
	return false
}
