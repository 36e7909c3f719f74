// Package safeset provides a thread-safe set of comparable values. The
// admission filter keeps its exact-match peer address lists in one.
package safeset

import "sync"

// SafeSet is a set of unique elements safe for concurrent use.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates a set holding the given values.
//
// Parameters:
//   - values: Initial elements; duplicates collapse
//
// Returns:
//   - The new set
func NewSafeSet[T comparable](values ...T) *SafeSet[T] {
	s := &SafeSet[T]{m: make(map[T]struct{}, len(values))}
	for _, v := range values {
		s.m[v] = struct{}{}
	}

	return s
}

// Add inserts value.
func (s *SafeSet[T]) Add(value T) {
	s.Lock()
	defer s.Unlock()
	s.m[value] = struct{}{}
}

// Remove deletes value if present.
func (s *SafeSet[T]) Remove(value T) {
	s.Lock()
	defer s.Unlock()
	delete(s.m, value)
}

// Contains reports whether value is in the set.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Replace swaps the whole content for values in one step, so concurrent
// readers observe either the old or the new set, never a mix.
//
// Parameters:
//   - values: The new elements
func (s *SafeSet[T]) Replace(values []T) {
	m := make(map[T]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}

	s.Lock()
	defer s.Unlock()
	s.m = m
}

// Reset removes all elements.
func (s *SafeSet[T]) Reset() {
	s.Replace(nil)
}

// Values returns a snapshot of the elements in unspecified order.
func (s *SafeSet[T]) Values() []T {
	s.RLock()
	defer s.RUnlock()
	out := make([]T, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}

	return out
}

// Range calls f for each element until f returns false. f must not modify the
// set.
func (s *SafeSet[T]) Range(f func(value T) bool) {
	s.RLock()
	defer s.RUnlock()
	for k := range s.m {
		if !f(k) {
			break
		}
	}
}
