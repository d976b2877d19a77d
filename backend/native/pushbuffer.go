// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuchan"
)

// pushbufferChunks is the number of pushes the native pushbuffer holds.
const pushbufferChunks = 64

// pushbuffer holds pushes in host memory. The doorbell walks them on the
// CPU, so no device copy is kept.
type pushbuffer struct {
	d *Device

	mu     sync.Mutex
	chunks [][]byte
	busy   []bool
	free   []int
}

func (d *Device) newPushbuffer(loc gpuchan.BufferLocation) (gpuchan.Pushbuffer, error) {
	pb := &pushbuffer{
		d:      d,
		chunks: make([][]byte, pushbufferChunks),
		busy:   make([]bool, pushbufferChunks),
		free:   make([]int, pushbufferChunks),
	}
	for i := range pb.free {
		pb.free[i] = i
	}

	d.mu.Lock()
	d.pb = pb
	d.mu.Unlock()

	d.logger().Debug("native: pushbuffer created", "chunks", pushbufferChunks, "location", loc)
	return pb, nil
}

func (pb *pushbuffer) BeginPush() (gpuchan.Chunk, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(pb.free) == 0 {
		return gpuchan.Chunk{}, fmt.Errorf("native pushbuffer: %w", gpuchan.ErrPushbufferFull)
	}
	idx := pb.free[0]
	pb.free = pb.free[1:]
	if pb.chunks[idx] == nil {
		pb.chunks[idx] = make([]byte, gpuchan.ChunkSize)
	}
	pb.busy[idx] = true
	return gpuchan.Chunk{
		Offset: uint64(idx) * gpuchan.ChunkSize, //nolint:gosec // G115: idx >= 0
		Data:   pb.chunks[idx],
	}, nil
}

// EndPush is a no-op: the bytes are read in place when the doorbell rings.
func (pb *pushbuffer) EndPush(gpuchan.Chunk, uint32) {}

func (pb *pushbuffer) GPUVA(c gpuchan.Chunk) uint64 { return c.Offset }

func (pb *pushbuffer) MarkCompleted(c gpuchan.Chunk, _ uint32) {
	idx := int(c.Offset / gpuchan.ChunkSize) //nolint:gosec // G115: bounded by chunk count

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if idx >= len(pb.busy) || !pb.busy[idx] {
		pb.d.logger().Error("native: pushbuffer chunk completed twice", "offset", c.Offset)
		return
	}
	pb.busy[idx] = false
	pb.free = append(pb.free, idx)
}

func (pb *pushbuffer) Destroy() {
	pb.d.mu.Lock()
	if pb.d.pb == pb {
		pb.d.pb = nil
	}
	pb.d.mu.Unlock()
}

// read returns the staged bytes of a push.
func (pb *pushbuffer) read(va uint64, size uint32) ([]byte, error) {
	idx := va / gpuchan.ChunkSize
	within := va % gpuchan.ChunkSize

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if idx >= uint64(len(pb.chunks)) || pb.chunks[idx] == nil || within+uint64(size) > gpuchan.ChunkSize {
		return nil, fmt.Errorf("pushbuffer fetch of %d bytes at 0x%x out of range", size, va)
	}
	return pb.chunks[idx][within : within+uint64(size)], nil
}
