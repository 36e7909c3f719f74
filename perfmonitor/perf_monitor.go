// Package perfmonitor measures wall-clock time spent in a unit of work. A
// worker uses one per session to time the processing hook.
package perfmonitor

import "time"

// PerformanceMonitor records a start and an end instant. It is not safe for
// concurrent use; each worker owns its own monitor.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no measurement in progress.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start begins a measurement, discarding any previous end time.
func (p *PerformanceMonitor) Start() {
	p.startTime = time.Now()
	p.endTime = time.Time{}
}

// Stop records the end instant. It does nothing if Start was not called since
// the last Reset; calling it again moves the end instant forward.
func (p *PerformanceMonitor) Stop() {
	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both instants.
func (p *PerformanceMonitor) Reset() {
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the measured duration, or 0 when the measurement is not
// complete.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}
