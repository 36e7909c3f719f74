// Package sigctl turns process signals into daemon control actions: a reload
// signal runs the registered reload functions, a quit signal requests a
// graceful stop and termination signals request an immediate stop. Signals
// are delivered on a channel and acted upon by the goroutine calling Wait,
// never inside signal delivery.
package sigctl

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-connserver/logger"
)

var (
	// ErrAlreadyInitialized is returned by Init while another Controller in
	// the process is initialized.
	ErrAlreadyInitialized = errors.New("signal controller already initialized")
	// ErrNotInitialized is returned by Wait before Init or after Fini.
	ErrNotInitialized = errors.New("signal controller not initialized")
)

// Only one controller may own the process signals at a time.
var owned atomic.Bool

// ReloadFunc is run for every reload signal. Errors are logged and the
// controller keeps waiting.
type ReloadFunc func() error

// Controller waits for control signals.
type Controller struct {
	log logger.Logger

	mu      sync.Mutex
	reloads []ReloadFunc
	ch      chan os.Signal
}

// New creates an uninitialized controller.
//
// Parameters:
//   - log: Logger for received signals and reload failures; nil disables logging
//   - reloads: Functions run, in order, on each reload signal
//
// Returns:
//   - A new Controller
func New(log logger.Logger, reloads ...ReloadFunc) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Controller{log: log, reloads: reloads}
}

// OnReload adds a reload function.
func (c *Controller) OnReload(f ReloadFunc) {
	c.mu.Lock()
	c.reloads = append(c.reloads, f)
	c.mu.Unlock()
}

// Init starts catching the control signals. Until Fini they no longer
// trigger the default action (termination) and are queued for Wait.
func (c *Controller) Init() error {
	if !owned.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, controlSignals()...)

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
	return nil
}

// Wait blocks until a stop signal arrives and returns it. Reload signals are
// handled in place. It may be called again after returning.
//
// Parameters:
//   - ctx: Ends the wait early with ctx.Err()
//
// Returns:
//   - The stop signal (see IsGraceful), or an error
func (c *Controller) Wait(ctx context.Context) (os.Signal, error) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return nil, ErrNotInitialized
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig := <-ch:
			if !isReload(sig) {
				c.log.Info("stop signal received",
					logger.Field{Key: "signal", Value: sig.String()},
					logger.Field{Key: "graceful", Value: IsGraceful(sig)},
				)
				return sig, nil
			}

			c.log.Info("reload signal received", logger.Field{Key: "signal", Value: sig.String()})
			c.reload()
		}
	}
}

func (c *Controller) reload() {
	c.mu.Lock()
	reloads := slices.Clone(c.reloads)
	c.mu.Unlock()

	for _, f := range reloads {
		if err := f(); err != nil {
			c.log.Error("reload failed", logger.Field{Key: "error", Value: err})
		}
	}
}

// Fini restores default signal handling. It is safe to call more than once.
func (c *Controller) Fini() {
	c.mu.Lock()
	ch := c.ch
	c.ch = nil
	c.mu.Unlock()

	if ch == nil {
		return
	}

	signal.Stop(ch)
	owned.Store(false)
}

// IsGraceful reports whether a stop signal returned by Wait asks for a
// graceful (drain) stop rather than an immediate one.
func IsGraceful(sig os.Signal) bool {
	return sig != nil && sig == gracefulSignal
}
