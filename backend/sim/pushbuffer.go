// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpuchan"
)

const pushbufferBase = 0x10_0000_0000

// Pushbuffer is the simulated command buffer. It hands out fixed chunks of
// gpuchan.ChunkSize bytes in FIFO order. It implements gpuchan.Pushbuffer.
type Pushbuffer struct {
	gpu *GPU
	loc gpuchan.BufferLocation

	mu        sync.Mutex
	chunks    [][]byte
	busy      []bool
	free      []int
	inUse     int
	submitted uint64
	destroyed bool
}

func (g *GPU) newPushbuffer(loc gpuchan.BufferLocation) (gpuchan.Pushbuffer, error) {
	n := g.cfg.PushbufferChunks
	pb := &Pushbuffer{
		gpu:    g,
		loc:    loc,
		chunks: make([][]byte, n),
		busy:   make([]bool, n),
		free:   make([]int, n),
	}
	for i := range pb.free {
		pb.free[i] = i
	}
	g.pb.Store(pb)
	g.logger().Debug("sim: pushbuffer created", "gpu", g.cfg.Name, "chunks", n, "location", loc)
	return pb, nil
}

// Location returns the placement the pushbuffer was created with.
func (pb *Pushbuffer) Location() gpuchan.BufferLocation { return pb.loc }

// InUse returns the number of chunks not yet marked completed.
func (pb *Pushbuffer) InUse() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.inUse
}

// Submitted returns the number of bytes submitted so far.
func (pb *Pushbuffer) Submitted() uint64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.submitted
}

// BeginPush takes the oldest free chunk.
func (pb *Pushbuffer) BeginPush() (gpuchan.Chunk, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.destroyed {
		return gpuchan.Chunk{}, errors.New("sim: pushbuffer destroyed")
	}
	if len(pb.free) == 0 {
		return gpuchan.Chunk{}, fmt.Errorf("sim pushbuffer on %s: %w", pb.gpu.cfg.Name, gpuchan.ErrPushbufferFull)
	}

	idx := pb.free[0]
	pb.free = pb.free[1:]
	if pb.chunks[idx] == nil {
		pb.chunks[idx] = make([]byte, gpuchan.ChunkSize)
	}
	pb.busy[idx] = true
	pb.inUse++

	return gpuchan.Chunk{
		Offset: uint64(idx) * gpuchan.ChunkSize, //nolint:gosec // G115: idx >= 0
		Data:   pb.chunks[idx],
	}, nil
}

// EndPush records size submitted bytes.
func (pb *Pushbuffer) EndPush(_ gpuchan.Chunk, size uint32) {
	pb.mu.Lock()
	pb.submitted += uint64(size)
	pb.mu.Unlock()
}

// GPUVA returns the device address of c.
func (pb *Pushbuffer) GPUVA(c gpuchan.Chunk) uint64 {
	return pushbufferBase + c.Offset
}

// MarkCompleted returns c to the free queue.
func (pb *Pushbuffer) MarkCompleted(c gpuchan.Chunk, _ uint32) {
	idx := int(c.Offset / gpuchan.ChunkSize) //nolint:gosec // G115: bounded by chunk count

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if idx >= len(pb.busy) || !pb.busy[idx] {
		pb.gpu.logger().Error("sim: pushbuffer chunk completed twice", "offset", c.Offset)
		return
	}
	pb.busy[idx] = false
	pb.inUse--
	pb.free = append(pb.free, idx)
}

// Destroy releases the pushbuffer. Chunks still in use are reported.
func (pb *Pushbuffer) Destroy() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.inUse != 0 {
		pb.gpu.logger().Warn("sim: pushbuffer destroyed with chunks in use", "in_use", pb.inUse)
	}
	pb.destroyed = true
	pb.gpu.pb.CompareAndSwap(pb, nil)
}

// read returns the size bytes at va.
func (pb *Pushbuffer) read(va uint64, size uint32) ([]byte, error) {
	if va < pushbufferBase {
		return nil, fmt.Errorf("pushbuffer fetch at unmapped address 0x%x", va)
	}
	off := va - pushbufferBase
	idx := off / gpuchan.ChunkSize
	within := off % gpuchan.ChunkSize

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if idx >= uint64(len(pb.chunks)) || pb.chunks[idx] == nil || within+uint64(size) > gpuchan.ChunkSize {
		return nil, fmt.Errorf("pushbuffer fetch of %d bytes at 0x%x out of range", size, va)
	}
	return pb.chunks[idx][within : within+uint64(size)], nil
}
