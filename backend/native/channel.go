// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/internal/methods"
)

const errorNotifierRC uint32 = 1

// channel is a software ring in front of the HAL queue.
type channel struct {
	d  *Device
	id uint32

	ring     []uint64
	notifier atomic.Uint32

	// fetched is the next ring index to submit. Only the doorbell touches
	// it, under the owning pool lock.
	fetched uint32
}

func (c *channel) RunlistID() uint32     { return 0 }
func (c *channel) ChannelID() uint32     { return c.id }
func (c *channel) ErrorNotifier() uint32 { return c.notifier.Load() }

// AllocateChannel creates a ring of params.NumGPFIFOEntries entries.
func (d *Device) AllocateChannel(params gpuchan.ChannelAllocParams) (gpuchan.HWChannel, error) {
	if params.EngineIndex != 0 {
		return nil, fmt.Errorf("allocate channel on CE %d: %w", params.EngineIndex, gpuchan.ErrNotSupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	c := &channel{
		d:    d,
		id:   d.nextID,
		ring: make([]uint64, params.NumGPFIFOEntries),
	}
	d.nextID++
	d.channels[c.id] = c
	return c, nil
}

// DestroyChannel forgets hw.
func (d *Device) DestroyChannel(hw gpuchan.HWChannel) {
	c, ok := hw.(*channel)
	if !ok || c.d != d {
		d.logger().Error("native: destroy channel", "error", ErrBadChannel)
		return
	}
	d.mu.Lock()
	delete(d.channels, c.id)
	d.mu.Unlock()
}

func (d *Device) lookup(hw gpuchan.HWChannel) (*channel, error) {
	c, ok := hw.(*channel)
	if !ok || c.d != d {
		return nil, ErrBadChannel
	}
	d.mu.RLock()
	live := d.channels[c.id] == c
	d.mu.RUnlock()
	if !live {
		return nil, ErrBadChannel
	}
	return c, nil
}

// ceHAL encodes the shared method stream.
type ceHAL struct{}

func (ceHAL) Init(p *gpuchan.Push) error {
	return methods.Encode(p, methods.CEInit(p.Channel().Pool().Engine()))
}

func (ceHAL) SemaphoreRelease(p *gpuchan.Push, va, value uint64) error {
	return methods.Encode(p, methods.SemaphoreRelease(va, uint32(value))) //nolint:gosec // G115: semaphore payload is the low 32 bits
}

// hostHAL turns ring entries into queue submissions.
type hostHAL struct {
	d *Device
}

func (hostHAL) Init(p *gpuchan.Push) error {
	return methods.Encode(p, methods.HostInit())
}

func (h hostHAL) SetGPFIFOEntry(hw gpuchan.HWChannel, index uint32, pushbufferVA uint64, size uint32) {
	c, err := h.d.lookup(hw)
	if err != nil {
		h.d.logger().Error("native: GPFIFO write", "error", err)
		return
	}
	e, err := methods.PackEntry(pushbufferVA, size)
	if err != nil {
		h.d.logger().Error("native: invalid GPFIFO entry", "channel", c.id, "va", pushbufferVA, "size", size)
		c.notifier.Store(errorNotifierRC)
		return
	}
	c.ring[index] = e
}

// WriteGPPut submits every entry up to put. Semaphore releases become
// fence signals; a failed submission faults the channel.
func (h hostHAL) WriteGPPut(hw gpuchan.HWChannel, put uint32) {
	c, err := h.d.lookup(hw)
	if err != nil {
		h.d.logger().Error("native: GPPUT write", "error", err)
		return
	}

	h.d.mu.RLock()
	pb := h.d.pb
	h.d.mu.RUnlock()

	for c.fetched != put && c.notifier.Load() == 0 {
		if err := h.submit(c, pb, c.ring[c.fetched]); err != nil {
			h.d.logger().Error("native: channel fault", "channel", c.id, "entry", c.fetched, "error", err)
			c.notifier.Store(errorNotifierRC)
			return
		}
		c.fetched = (c.fetched + 1) % uint32(len(c.ring)) //nolint:gosec // G115: ring sizes fit uint32
	}
}

func (h hostHAL) submit(c *channel, pb *pushbuffer, entry uint64) error {
	if pb == nil {
		return fmt.Errorf("no pushbuffer")
	}
	va, size := methods.UnpackEntry(entry)
	stream, err := pb.read(va, size)
	if err != nil {
		return err
	}
	return methods.Walk(stream, func(m methods.Method) error {
		if m.Op != methods.OpSemaphoreRelease {
			return nil
		}
		sem, err := h.d.semaphoreAt(m.B)
		if err != nil {
			return err
		}
		value := sem.extend(m.A)
		if err := h.d.queue.Submit(nil, sem.fence, value); err != nil {
			return fmt.Errorf("signal fence to %d: %w", value, err)
		}
		sem.signaled.Store(value)
		return nil
	})
}
