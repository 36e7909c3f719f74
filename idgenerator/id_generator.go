// Package idgenerator hands out run-unique numeric identifiers together with a
// log-friendly string form that stays unique across restarts.
package idgenerator

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IdGenerator generates monotonically increasing uint32 IDs in a
// concurrency-safe manner. The first Id() returns startValue+1, so 0 can be
// reserved to mean "no id".
type IdGenerator struct {
	id    atomic.Uint32
	epoch time.Time
}

// NewIdGenerator creates an IdGenerator whose first Id() returns startValue+1.
// The creation time becomes the epoch used by LogID.
//
// Parameters:
//   - startValue: Initial counter value
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{epoch: time.Now()}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID. It is safe for concurrent use.
func (l *IdGenerator) Id() uint32 {
	return l.id.Add(1)
}

// Epoch returns the time the generator was created.
func (l *IdGenerator) Epoch() time.Time {
	return l.epoch
}

// LogID formats id as "<epoch-hex>.<id-hex>", e.g. "6720A3F1.00002A". The
// epoch prefix keeps identifiers from different runs apart in shared logs.
//
// Parameters:
//   - id: A value previously returned by Id
//
// Returns:
//   - The log-friendly identifier
func (l *IdGenerator) LogID(id uint32) string {
	return fmt.Sprintf("%X.%06X", l.epoch.Unix(), id)
}
