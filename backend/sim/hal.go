// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/internal/methods"
)

// ceHAL encodes copy engine methods.
type ceHAL struct {
	g *GPU
}

func (h ceHAL) Init(p *gpuchan.Push) error {
	return methods.Encode(p, methods.CEInit(p.Channel().Pool().Engine()))
}

func (h ceHAL) SemaphoreRelease(p *gpuchan.Push, va, value uint64) error {
	return methods.Encode(p, methods.SemaphoreRelease(va, uint32(value))) //nolint:gosec // G115: semaphore payload is the low 32 bits
}

// hostHAL drives the GPFIFO and GPPUT of simulated channels.
type hostHAL struct {
	g *GPU
}

func (h hostHAL) Init(p *gpuchan.Push) error {
	return methods.Encode(p, methods.HostInit())
}

func (h hostHAL) SetGPFIFOEntry(hw gpuchan.HWChannel, index uint32, pushbufferVA uint64, size uint32) {
	ch, err := h.g.lookup(hw)
	if err != nil {
		h.g.logger().Error("sim: GPFIFO write", "error", err)
		return
	}
	e, err := methods.PackEntry(pushbufferVA, size)
	if err != nil {
		// Hardware would fault fetching the entry.
		h.g.logger().Error("sim: invalid GPFIFO entry", "channel", ch.id, "va", pushbufferVA, "size", size)
		ch.fault(errorNotifierRC)
		return
	}
	ch.gpfifo[index].Store(e)
}

func (h hostHAL) WriteGPPut(hw gpuchan.HWChannel, put uint32) {
	ch, err := h.g.lookup(hw)
	if err != nil {
		h.g.logger().Error("sim: GPPUT write", "error", err)
		return
	}
	ch.gpPut.Store(put)
	if h.g.cfg.AutoComplete {
		h.g.execute(ch)
	}
}

// Copy encodes a copy of size bytes from src to dst.
func Copy(p *gpuchan.Push, dst, src uint64, size uint32) error {
	return methods.Encode(p, methods.Copy(dst, src, size))
}

// Acquire makes the push wait until value has completed on src, and
// records the dependency for diagnostics.
func Acquire(p *gpuchan.Push, src *gpuchan.Channel, value uint64) error {
	if err := methods.Encode(p, methods.SemaphoreAcquire(src.SemaphoreGPUVA(p.Channel().IsProxy()), uint32(value))); err != nil { //nolint:gosec // G115: low 32 bits
		return err
	}
	p.RecordAcquire(src, value)
	return nil
}
