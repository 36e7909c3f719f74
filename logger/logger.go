// Package logger provides the structured logging interface used across the
// server, backed by zerolog. Loggers can write to any io.Writer or to
// date-stamped files that are reopened on demand (e.g. on SIGHUP).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is an interface for structured, levelled logging. Derived loggers
// created with With carry their fields into every entry.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a Logger that includes the given fields in all subsequent
	// entries. The receiver is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Reopen closes and reopens the underlying log file, if any, so external
	// rotation tools can move files away. It is a no-op for stream loggers.
	//
	// Returns:
	//   - An error if the file could not be reopened
	Reopen() error

	// Close releases resources held by the logger. It is safe to call
	// multiple times; derived loggers never close the shared file.
	//
	// Returns:
	//   - An error if closing resources fails
	Close() error
}

type zerologLogger struct {
	logger     zerolog.Logger
	fileWriter *DailyFileWriter
	owner      bool
}

// NewZerologLogger builds a Logger writing JSON lines to w, tagging every entry
// with the service name and a timestamp, filtered by level.
//
// Parameters:
//   - w: Destination of log entries (e.g. os.Stdout)
//   - serviceName: Added as the "service" field of every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes to w
func NewZerologLogger(w io.Writer, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: zerolog.New(w).With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewZerologFileLogger creates a Logger that writes to stdout and to a
// date-stamped file in logDir named {serviceName}_{date}.log.
//
// Parameters:
//   - serviceName: Name used in entries and file names
//   - logDir: Directory for log files; created if missing
//   - level: Minimum level to log
//
// Returns:
//   - The Logger, or an error if the directory or file cannot be created
func NewZerologFileLogger(serviceName, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fw, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, err
	}

	l := NewZerologLogger(io.MultiWriter(os.Stdout, fw), serviceName, level).(*zerologLogger)
	l.fileWriter = fw
	l.owner = true
	return l, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

func (z *zerologLogger) Reopen() error {
	if z.fileWriter == nil {
		return nil
	}

	return z.fileWriter.Reopen()
}

func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.owner {
		return z.fileWriter.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}

// ParseLevel maps a level name ("debug", "info", "warn", "error", "disabled")
// to a zerolog level. Matching is case-insensitive; an empty name means info.
//
// Returns:
//   - The level, or an error for unknown names
func ParseLevel(name string) (zerolog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zerolog.InfoLevel, nil
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}

	return lvl, nil
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field) {}
func (nopLogger) Warn(string, ...Field) {}
func (nopLogger) Error(string, ...Field) {}
func (n nopLogger) With(...Field) Logger { return n }
func (nopLogger) Reopen() error { return nil }
func (nopLogger) Close() error { return nil }
