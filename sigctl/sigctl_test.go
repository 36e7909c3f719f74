//go:build unix

package sigctl

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func raise(t *testing.T, sig unix.Signal) {
	t.Helper()
	require.NoError(t, unix.Kill(os.Getpid(), sig))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestController_InitIsExclusive(t *testing.T) {
	a, b := New(nil), New(nil)

	require.NoError(t, a.Init())
	assert.ErrorIs(t, b.Init(), ErrAlreadyInitialized)

	a.Fini()
	a.Fini()
	require.NoError(t, b.Init())
	b.Fini()
}

func TestController_WaitRequiresInit(t *testing.T) {
	c := New(nil)
	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestController_StopSignals(t *testing.T) {
	tests := []struct {
		sig      unix.Signal
		graceful bool
	}{
		{unix.SIGQUIT, true},
		{unix.SIGTERM, false},
		{unix.SIGINT, false},
	}

	c := New(nil)
	require.NoError(t, c.Init())
	defer c.Fini()

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			raise(t, tt.sig)
			sig, err := c.Wait(waitCtx(t))
			require.NoError(t, err)
			assert.Equal(t, tt.sig, sig)
			assert.Equal(t, tt.graceful, IsGraceful(sig))
		})
	}
}

func TestController_ReloadKeepsWaiting(t *testing.T) {
	var first, second atomic.Int32
	c := New(nil, func() error {
		first.Add(1)
		return errors.New("bad list file")
	})
	c.OnReload(func() error {
		second.Add(1)
		return nil
	})
	require.NoError(t, c.Init())
	defer c.Fini()

	result := make(chan os.Signal, 1)
	go func() {
		sig, _ := c.Wait(waitCtx(t))
		result <- sig
	}()

	raise(t, unix.SIGHUP)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), first.Load())

	select {
	case <-result:
		t.Fatal("Wait returned on a reload signal")
	default:
	}

	raise(t, unix.SIGTERM)
	select {
	case sig := <-result:
		assert.Equal(t, unix.SIGTERM, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return on SIGTERM")
	}
}

func TestController_WaitCancelled(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Init())
	defer c.Fini()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsGraceful(t *testing.T) {
	assert.True(t, IsGraceful(unix.SIGQUIT))
	assert.False(t, IsGraceful(unix.SIGTERM))
	assert.False(t, IsGraceful(nil))
}
