// Package registry holds the supervisor's exclusively owned process handle.
package registry

import "sync"

// Slot is a mutex-guarded container for at most one value.
// Take hands the value out exactly once, so whoever takes it owns it.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
}

// Store places v in the slot. It is expected to be called once per run;
// a previous value is overwritten without being released.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.full = true
}

// Take removes and returns the value, reporting whether one was present.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if !s.full {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.full = false
	return v, true
}

// Occupied reports whether the slot currently holds a value.
func (s *Slot[T]) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}
