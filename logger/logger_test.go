package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestZerologLogger(t *testing.T) {
	t.Run("writes service, message and fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(&buf, "connserver", zerolog.DebugLevel)
		l.Info("worker started", Field{Key: "worker", Value: 3})

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "connserver", lines[0]["service"])
		assert.Equal(t, "worker started", lines[0]["message"])
		assert.Equal(t, "info", lines[0]["level"])
		assert.EqualValues(t, 3, lines[0]["worker"])
		assert.Contains(t, lines[0], "time")
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(&buf, "svc", zerolog.WarnLevel)
		l.Debug("d")
		l.Info("i")
		l.Warn("w")
		l.Error("e")

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "w", lines[0]["message"])
		assert.Equal(t, "e", lines[1]["message"])
	})

	t.Run("with carries fields and leaves parent untouched", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewZerologLogger(&buf, "svc", zerolog.InfoLevel)
		child := parent.With(Field{Key: "session", Value: "abc"})
		child.Info("child")
		parent.Info("parent")

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "abc", lines[0]["session"])
		assert.NotContains(t, lines[1], "session")
	})

	t.Run("reopen and close are no-ops for stream loggers", func(t *testing.T) {
		l := NewZerologLogger(&bytes.Buffer{}, "svc", zerolog.InfoLevel)
		assert.NoError(t, l.Reopen())
		assert.NoError(t, l.Close())
		assert.NoError(t, l.Close())
	})
}

func TestZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewZerologFileLogger("svc", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("to file")
	require.NoError(t, l.Reopen())
	l.With(Field{Key: "k", Value: "v"}).Info("after reopen")
	require.NoError(t, l.Close())

	name := filepath.Join(dir, "svc_"+time.Now().Format(time.DateOnly)+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), "after reopen")
}

func TestDailyFileWriter(t *testing.T) {
	t.Run("switches file when the day changes", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewDailyFileWriter("svc", dir)
		require.NoError(t, err)
		defer w.Close()

		day := time.Date(2030, 1, 1, 23, 59, 0, 0, time.UTC)
		w.now = func() time.Time { return day }
		_, err = w.Write([]byte("one\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2030-01-01.log"), w.CurrentLogFile())

		day = day.Add(2 * time.Minute)
		_, err = w.Write([]byte("two\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2030-01-02.log"), w.CurrentLogFile())

		first, err := os.ReadFile(filepath.Join(dir, "svc_2030-01-01.log"))
		require.NoError(t, err)
		assert.Equal(t, "one\n", string(first))
	})

	t.Run("reopen recreates a moved file", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewDailyFileWriter("svc", dir)
		require.NoError(t, err)
		defer w.Close()

		current := w.CurrentLogFile()
		require.NoError(t, os.Rename(current, current+".1"))
		require.NoError(t, w.Reopen())
		_, err = w.Write([]byte("fresh\n"))
		require.NoError(t, err)

		data, err := os.ReadFile(current)
		require.NoError(t, err)
		assert.Equal(t, "fresh\n", string(data))
	})

	t.Run("closed writer rejects writes", func(t *testing.T) {
		w, err := NewDailyFileWriter("svc", t.TempDir())
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("x"))
		assert.Error(t, err)
		assert.Error(t, w.Reopen())
		assert.Empty(t, w.CurrentLogFile())
	})

	t.Run("missing directory fails", func(t *testing.T) {
		_, err := NewDailyFileWriter("svc", filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		" warn": zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.With(Field{Key: "a", Value: 1}).Error("y")
	})
	assert.NoError(t, l.Reopen())
	assert.NoError(t, l.Close())
}
