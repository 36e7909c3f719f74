package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errWriterClosed = errors.New("log writer is closed")

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in a
// directory. The file switches on the first write of a new day and can be
// reopened explicitly with Reopen. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	closed bool
}

// NewDailyFileWriter opens today's log file in logDir. The directory must
// already exist.
//
// Parameters:
//   - service: Service name used in file names
//   - logDir: Directory holding the log files
//
// Returns:
//   - The writer, or an error if the file could not be opened
func NewDailyFileWriter(service, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{service: service, dir: logDir, now: time.Now}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openLocked(w.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errWriterClosed
	}

	if date := w.now().Format(time.DateOnly); date != w.date || w.file == nil {
		if err := w.openLocked(date); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// Reopen closes the current file and opens the file for today again.
//
// Returns:
//   - An error if the writer is closed or the file cannot be opened
func (w *DailyFileWriter) Reopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errWriterClosed
	}

	return w.openLocked(w.now().Format(time.DateOnly))
}

// CurrentLogFile returns the path being written to, or "" when closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.file.Name()
}

// Close closes the current file. Later writes fail. Safe to call twice.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) openLocked(date string) error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	name := filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", name, err)
	}

	w.file = f
	w.date = date
	return nil
}
