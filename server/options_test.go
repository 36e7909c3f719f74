package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 2, o.MinThreads)
	assert.Equal(t, 16, o.MaxThreads)
	assert.Equal(t, 2, o.SpareThreads)
	assert.Equal(t, 25, o.DefaultPort)
	assert.Equal(t, time.Second, o.AcceptTimeout)

	// Interfaces is the only mandatory field.
	assert.ErrorIs(t, o.Validate(), ErrInvalidOptions)
	o.Interfaces = "127.0.0.1"
	assert.NoError(t, o.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"blank interfaces", func(o *Options) { o.Interfaces = "  " }},
		{"port out of range", func(o *Options) { o.DefaultPort = 70000 }},
		{"no min threads", func(o *Options) { o.MinThreads = 0 }},
		{"max below min", func(o *Options) { o.MinThreads, o.MaxThreads = 4, 2 }},
		{"negative spare", func(o *Options) { o.SpareThreads = -1 }},
		{"no backlog", func(o *Options) { o.QueueSize = 0 }},
		{"no accept timeout", func(o *Options) { o.AcceptTimeout = 0 }},
		{"negative stop timeout", func(o *Options) { o.StopTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			o.Interfaces = "127.0.0.1:0"
			tt.modify(&o)
			assert.ErrorIs(t, o.Validate(), ErrInvalidOptions)
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	o := DefaultOptions()
	o.Interfaces = "[::1"

	_, err := New(o, HandlerFunc(func(_ context.Context, _ *Session) {}))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	o.Interfaces = "127.0.0.1:0"
	_, err = New(o, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
