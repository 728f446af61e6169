// Package cache provides a lock-free container for immutable snapshots
// swapped atomically by a background refresher and read on every
// request.
package cache

import "sync/atomic"

type Snapshot[T any] struct{ v atomic.Value }

// Load returns the current snapshot and whether one has been stored.
func (s *Snapshot[T]) Load() (T, bool) {
	v := s.v.Load()
	if v == nil {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Store swaps in the new snapshot. The stored value must never be
// mutated afterwards.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(v)
}
