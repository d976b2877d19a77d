// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpuchan"
)

const (
	semaphoreBase = 0x2_0000_0000
	semaphoreSize = 16

	// proxyVABit selects the proxy address space.
	proxyVABit = 1 << 39
)

// semaphore is a 32-bit word of simulated device memory.
type semaphore struct {
	va    uint64
	value atomic.Uint32
}

func (s *semaphore) GPUVA(proxy bool) uint64 {
	if proxy {
		return s.va | proxyVABit
	}
	return s.va
}

func (s *semaphore) Payload() uint32 { return s.value.Load() }

// AllocSemaphore allocates a zeroed semaphore.
func (g *GPU) AllocSemaphore() (gpuchan.Semaphore, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := &semaphore{va: g.nextSemVA}
	g.nextSemVA += semaphoreSize
	g.semaphores[s.va] = s
	return s, nil
}

// FreeSemaphore frees a semaphore allocated by AllocSemaphore.
func (g *GPU) FreeSemaphore(s gpuchan.Semaphore) {
	sem, ok := s.(*semaphore)
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.semaphores, sem.va)
	g.mu.Unlock()
}

// SetSemaphore overwrites the payload of the semaphore at va, as a
// misbehaving engine would.
func (g *GPU) SetSemaphore(va uint64, payload uint32) error {
	s, err := g.semaphoreAt(va)
	if err != nil {
		return err
	}
	s.value.Store(payload)
	return nil
}

// semaphoreAt resolves a GPU address in either address space.
func (g *GPU) semaphoreAt(va uint64) (*semaphore, error) {
	g.mu.RLock()
	s, ok := g.semaphores[va&^proxyVABit]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("semaphore access at unmapped address 0x%x", va)
	}
	return s, nil
}
