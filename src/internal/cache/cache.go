// Package cache provides a single-slot, time-windowed cache. Each slot holds
// exactly one value shared by every caller; a fresh entry is served without
// touching the refresh function at all, which is what keeps the upstream APIs
// inside their rate limits.
package cache

import (
	"context"
	"sync"
	"time"
)

// Slot caches one value with a TTL. Construct a fresh instance per use; there
// is no global state.
type Slot[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	data      T
	storedAt  time.Time
	populated bool
}

// NewSlot builds a slot with the given TTL.
func NewSlot[T any](ttl time.Duration) *Slot[T] {
	return NewSlotWithClock[T](ttl, time.Now)
}

// NewSlotWithClock builds a slot with an injectable clock, for tests.
func NewSlotWithClock[T any](ttl time.Duration, now func() time.Time) *Slot[T] {
	return &Slot[T]{ttl: ttl, now: now}
}

// Get returns the cached value and whether it is still fresh.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.populated || s.now().Sub(s.storedAt) >= s.ttl {
		var zero T
		return zero, false
	}
	return s.data, true
}

// Set stores a full replacement value as the new baseline.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = v
	s.storedAt = s.now()
	s.populated = true
}

// Invalidate empties the slot; the next Get misses.
func (s *Slot[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.data = zero
	s.populated = false
}

// GetOrRefresh serves the cached value when it is fresh and bust is unset;
// otherwise it calls fetch and stores the result. fetch runs outside the lock,
// so overlapping busted reads each hit upstream and the last write wins —
// writes are whole-value replacements, never partial.
func (s *Slot[T]) GetOrRefresh(ctx context.Context, bust bool, fetch func(context.Context) (T, error)) (T, error) {
	if !bust {
		if v, ok := s.Get(); ok {
			return v, nil
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.Set(v)
	return v, nil
}
