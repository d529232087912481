package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot holds at most one value. Put overwrites an unconsumed value and
// counts it as dropped, so a consumer always sees the newest value.
type Slot[T any] struct {
	mu     sync.Mutex
	val    T
	full   bool
	notify chan struct{}

	puts  atomic.Uint64
	drops atomic.Uint64
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{notify: make(chan struct{}, 1)}
}

// Put stores v and reports whether an unconsumed value was overwritten.
func (s *Slot[T]) Put(v T) bool {
	s.mu.Lock()
	dropped := s.full
	s.val = v
	s.full = true
	s.mu.Unlock()

	s.puts.Add(1)
	if dropped {
		s.drops.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryTake removes and returns the value if one is present.
func (s *Slot[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.full {
		return zero, false
	}
	v := s.val
	s.val = zero
	s.full = false
	return v, true
}

// Take blocks until a value is present or ctx is done.
func (s *Slot[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := s.TryTake(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-s.notify:
		}
	}
}

// Puts returns the number of values stored.
func (s *Slot[T]) Puts() uint64 { return s.puts.Load() }

// Drops returns the number of values overwritten before being taken.
func (s *Slot[T]) Drops() uint64 { return s.drops.Load() }
