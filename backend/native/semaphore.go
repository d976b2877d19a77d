// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuchan"
)

const (
	semaphoreBase = 0x4_0000_0000
	semaphoreSize = 16
)

// fenceSemaphore is a tracking semaphore backed by a HAL timeline fence.
// The fence holds the full 64-bit value; Payload exposes its low 32 bits
// like a hardware semaphore word.
type fenceSemaphore struct {
	d     *Device
	fence hal.Fence
	va    uint64

	// signaled is the highest value submitted for the fence. Written by
	// the doorbell of the owning channel only.
	signaled atomic.Uint64
	// reached caches the highest value the fence was seen to reach.
	reached atomic.Uint64
}

// GPUVA returns the handle engines release to. There is a single address
// space.
func (s *fenceSemaphore) GPUVA(bool) uint64 { return s.va }

// Payload returns the low 32 bits of the highest value the fence reached.
// The value is found with non-blocking waits between the last value seen
// and the last value submitted.
func (s *fenceSemaphore) Payload() uint32 {
	lo := s.reached.Load()
	hi := s.signaled.Load()
	if hi <= lo {
		return uint32(lo) //nolint:gosec // G115: low 32 bits
	}

	if s.hasReached(hi) {
		lo = hi
	} else {
		// Invariant: lo reached, hi not reached.
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			if s.hasReached(mid) {
				lo = mid
			} else {
				hi = mid
			}
		}
	}

	for {
		old := s.reached.Load()
		if lo <= old || s.reached.CompareAndSwap(old, lo) {
			break
		}
	}
	return uint32(s.reached.Load()) //nolint:gosec // G115: low 32 bits
}

func (s *fenceSemaphore) hasReached(v uint64) bool {
	ok, err := s.d.device.Wait(s.fence, v, 0)
	if err != nil {
		s.d.logger().Error("native: fence wait", "value", v, "error", err)
		return false
	}
	return ok
}

// extend turns a released 32-bit payload into the next 64-bit fence value.
func (s *fenceSemaphore) extend(payload uint32) uint64 {
	last := s.signaled.Load()
	v := last&^0xffffffff | uint64(payload)
	if v < last {
		v += 1 << 32
	}
	return v
}

// AllocSemaphore creates a fence.
func (d *Device) AllocSemaphore() (gpuchan.Semaphore, error) {
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.device.DestroyFence(fence)
		return nil, ErrClosed
	}
	s := &fenceSemaphore{d: d, fence: fence, va: d.nextSemVA}
	d.nextSemVA += semaphoreSize
	d.semaphores[s.va] = s
	return s, nil
}

// FreeSemaphore destroys the fence of s.
func (d *Device) FreeSemaphore(s gpuchan.Semaphore) {
	sem, ok := s.(*fenceSemaphore)
	if !ok {
		return
	}

	d.mu.Lock()
	_, live := d.semaphores[sem.va]
	delete(d.semaphores, sem.va)
	d.mu.Unlock()

	if live {
		d.device.DestroyFence(sem.fence)
	}
}

// semaphoreAt resolves a semaphore handle.
func (d *Device) semaphoreAt(va uint64) (*fenceSemaphore, error) {
	d.mu.RLock()
	s, ok := d.semaphores[va]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("semaphore release at unmapped address 0x%x", va)
	}
	return s, nil
}
