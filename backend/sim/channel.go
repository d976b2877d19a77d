// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/internal/methods"
)

// Error notifier status words.
const (
	errorNotifierNone uint32 = iota
	errorNotifierRC
)

// Channel is a simulated hardware channel. It implements
// gpuchan.HWChannel.
type Channel struct {
	gpu     *GPU
	runlist uint32
	id      uint32
	params  gpuchan.ChannelAllocParams

	gpfifo   []atomic.Uint64
	gpPut    atomic.Uint32
	notifier atomic.Uint32

	// mu serialises the consumer; gpGet is owned by it.
	mu     sync.Mutex
	gpGet  uint32
	inited bool
	ce     uint32
}

// RunlistID returns the runlist of the channel, which is its engine.
func (c *Channel) RunlistID() uint32 { return c.runlist }

// ChannelID returns the channel id, unique on the GPU.
func (c *Channel) ChannelID() uint32 { return c.id }

// ErrorNotifier returns the channel error status word.
func (c *Channel) ErrorNotifier() uint32 { return c.notifier.Load() }

// Params returns the allocation parameters of the channel.
func (c *Channel) Params() gpuchan.ChannelAllocParams { return c.params }

// GPGet returns the index of the next descriptor the consumer fetches.
func (c *Channel) GPGet() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gpGet
}

// GPPut returns the last value written to the GPPUT register.
func (c *Channel) GPPut() uint32 { return c.gpPut.Load() }

// Initialized reports whether the channel executed its engine and host
// setup methods.
func (c *Channel) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inited
}

func (c *Channel) fault(status uint32) {
	c.notifier.CompareAndSwap(errorNotifierNone, status)
}

// QueryCopyEngineCaps returns the capability table.
func (g *GPU) QueryCopyEngineCaps() ([]gpuchan.CopyEngineCaps, error) {
	return append([]gpuchan.CopyEngineCaps(nil), g.cfg.Engines...), nil
}

// AllocateChannel creates a channel on params.EngineIndex.
func (g *GPU) AllocateChannel(params gpuchan.ChannelAllocParams) (gpuchan.HWChannel, error) {
	if int(params.EngineIndex) >= len(g.cfg.Engines) || !g.cfg.Engines[params.EngineIndex].Supported {
		return nil, fmt.Errorf("allocate channel on CE %d: %w", params.EngineIndex, ErrNoEngine)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.allocs++
	if g.cfg.FailChannelAlloc != 0 && g.allocs == g.cfg.FailChannelAlloc {
		return nil, fmt.Errorf("allocate channel %d: %w", g.allocs, errors.Join(ErrAllocInjected, gpuchan.ErrNoMemory))
	}

	ch := &Channel{
		gpu:     g,
		runlist: params.EngineIndex,
		id:      g.nextID,
		params:  params,
		gpfifo:  make([]atomic.Uint64, params.NumGPFIFOEntries),
	}
	g.nextID++
	g.channels[ch.id] = ch
	g.params = append(g.params, params)

	g.logger().Debug("sim: channel allocated",
		"gpu", g.cfg.Name,
		"channel", ch.id,
		"ce", params.EngineIndex,
		"entries", params.NumGPFIFOEntries,
		"proxy", params.Proxy)
	return ch, nil
}

// DestroyChannel removes hw from the GPU.
func (g *GPU) DestroyChannel(hw gpuchan.HWChannel) {
	ch, err := g.lookup(hw)
	if err != nil {
		g.logger().Error("sim: destroy channel", "error", err)
		return
	}
	g.mu.Lock()
	delete(g.channels, ch.id)
	g.mu.Unlock()
}

// lookup resolves a handle of this GPU.
func (g *GPU) lookup(hw gpuchan.HWChannel) (*Channel, error) {
	ch, ok := hw.(*Channel)
	if !ok || ch.gpu != g {
		return nil, ErrBadChannel
	}
	g.mu.RLock()
	live := g.channels[ch.id] == ch
	g.mu.RUnlock()
	if !live {
		return nil, ErrBadChannel
	}
	return ch, nil
}

// execute runs the descriptors between GPGET and GPPUT and returns the
// number executed. A faulted channel executes nothing.
func (g *GPU) execute(ch *Channel) int {
	if g.stalled.Load() {
		return 0
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	n := 0
	put := ch.gpPut.Load()
	for ch.gpGet != put && ch.notifier.Load() == errorNotifierNone {
		va, size := methods.UnpackEntry(ch.gpfifo[ch.gpGet].Load())

		done, err := g.executePush(ch, va, size)
		if err != nil {
			g.logger().Error("sim: channel fault",
				"gpu", g.cfg.Name,
				"channel", ch.id,
				"gpget", ch.gpGet,
				"error", err)
			ch.fault(errorNotifierRC)
			break
		}
		if !done {
			// Blocked on an acquire; retried on the next pass.
			break
		}

		ch.gpGet = (ch.gpGet + 1) % uint32(len(ch.gpfifo)) //nolint:gosec // G115: ring sizes fit uint32
		g.entries.Add(1)
		g.bytes.Add(uint64(size))
		n++
	}
	return n
}

// executePush runs one push. It reports false when the push waits on a
// semaphore acquire; nothing has executed in that case.
func (g *GPU) executePush(ch *Channel, va uint64, size uint32) (bool, error) {
	pb := g.pb.Load()
	if pb == nil {
		return false, errors.New("no pushbuffer")
	}
	stream, err := pb.read(va, size)
	if err != nil {
		return false, err
	}

	// Acquires sit at the start of a push; check them all before running
	// anything so a blocked push is retried from scratch.
	blocked := false
	err = methods.Walk(stream, func(m methods.Method) error {
		if m.Op != methods.OpSemaphoreAcquire {
			return nil
		}
		sem, err := g.semaphoreAt(m.B)
		if err != nil {
			return err
		}
		if int32(sem.value.Load()-m.A) < 0 { //nolint:gosec // G115: wrapping compare
			blocked = true
		}
		return nil
	})
	if err != nil || blocked {
		return false, err
	}

	err = methods.Walk(stream, func(m methods.Method) error {
		switch m.Op {
		case methods.OpCEInit:
			ch.ce = m.A
			g.inits.Add(1)
		case methods.OpHostInit:
			ch.inited = true
			g.inits.Add(1)
		case methods.OpCopy:
			g.copies.Add(1)
		case methods.OpSemaphoreRelease:
			sem, err := g.semaphoreAt(m.B)
			if err != nil {
				return err
			}
			sem.value.Store(m.A)
			g.releases.Add(1)
		}
		return nil
	})
	return err == nil, err
}
