package gpuchan

import (
	"sync"
	"sync/atomic"
)

// TrackingSemaphore is a 64-bit monotonic completion counter built on a
// 32-bit hardware semaphore. The GPU releases the low 32 bits of each
// queued value; UpdateCompletedValue extends the payload back to 64 bits,
// assuming fewer than 2^32 values complete between two updates.
//
// The queued value is written only by the holder of the owning pool lock.
// Completed values may be read and refreshed from any goroutine.
type TrackingSemaphore struct {
	sem Semaphore

	queued atomic.Uint64

	mu        sync.Mutex // serialises the 32->64 bit extension
	completed atomic.Uint64
}

// newTrackingSemaphore wraps sem. Both counters start at zero.
func newTrackingSemaphore(sem Semaphore) *TrackingSemaphore {
	return &TrackingSemaphore{sem: sem}
}

// nextValue assigns and returns the next queued value.
// The caller must hold the owning pool lock.
func (s *TrackingSemaphore) nextValue() uint64 {
	v := s.queued.Load() + 1
	s.queued.Store(v)
	return v
}

// rollback undoes the last nextValue. The caller must hold the owning pool
// lock and must not have published v to hardware.
func (s *TrackingSemaphore) rollback(v uint64) {
	s.queued.CompareAndSwap(v, v-1)
}

// QueuedValue returns the last value assigned to a push.
func (s *TrackingSemaphore) QueuedValue() uint64 {
	return s.queued.Load()
}

// CompletedValue returns the last completed value observed, without
// reading the hardware semaphore.
func (s *TrackingSemaphore) CompletedValue() uint64 {
	return s.completed.Load()
}

// UpdateCompletedValue reads the hardware payload and returns the refreshed
// completed value.
func (s *TrackingSemaphore) UpdateCompletedValue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.completed.Load()
	payload := uint64(s.sem.Payload())

	v := old&^0xffffffff | payload
	if v < old {
		// The payload wrapped past 2^32 since the last update.
		v += 1 << 32
	}
	if v != old {
		s.completed.Store(v)
	}
	return v
}

// IsValueCompleted reports whether value has completed. The cached value
// answers when it can; otherwise the hardware semaphore is read.
func (s *TrackingSemaphore) IsValueCompleted(value uint64) bool {
	if value <= s.completed.Load() {
		return true
	}
	return value <= s.UpdateCompletedValue()
}

// IsCompleted reports whether every queued value has completed.
func (s *TrackingSemaphore) IsCompleted() bool {
	return s.IsValueCompleted(s.queued.Load())
}
