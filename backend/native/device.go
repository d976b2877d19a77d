// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // Register Vulkan backend for OpenDefault

	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/backend"
)

// init registers the native backend on package import.
func init() {
	backend.Register(backend.BackendNative, func() (backend.Device, error) {
		return OpenDefault()
	})
}

// Device adapts a HAL device and queue to gpuchan.
//
// Device is safe for concurrent use.
type Device struct {
	name   string
	device hal.Device
	queue  hal.Queue

	// instance is set when the device was created by OpenDefault and is
	// destroyed by Close.
	instance hal.Instance

	log atomic.Pointer[slog.Logger]

	mu         sync.RWMutex
	closed     bool
	channels   map[uint32]*channel
	nextID     uint32
	semaphores map[uint64]*fenceSemaphore
	nextSemVA  uint64
	pb         *pushbuffer
}

// NewDevice wraps an open HAL device and queue. The caller keeps
// ownership of both.
func NewDevice(name string, device hal.Device, queue hal.Queue) *Device {
	d := &Device{
		name:       name,
		device:     device,
		queue:      queue,
		channels:   make(map[uint32]*channel),
		semaphores: make(map[uint64]*fenceSemaphore),
		nextSemVA:  semaphoreBase,
	}
	d.log.Store(slog.New(slog.DiscardHandler))
	return d
}

// Open wraps the HAL device of a gogpu context. The provider must expose
// HalDevice and HalQueue accessors, as gogpu contexts do.
func Open(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return NewDevice("wgpu", device, queue), nil
}

// OpenDefault creates a standalone device on the Vulkan backend,
// preferring a discrete or integrated GPU.
func OpenDefault() (*Device, error) {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	d := NewDevice(selected.Info.Name, openDev.Device, openDev.Queue)
	d.instance = instance
	return d, nil
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.BackendNative }

// SetLogger sets the logger of the device. gpuchan.NewManager propagates
// its logger here.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.log.Store(l)
}

func (d *Device) logger() *slog.Logger { return d.log.Load() }

// Platform returns the collaborators of the device.
func (d *Device) Platform() gpuchan.Platform {
	return gpuchan.Platform{
		Name:          d.name,
		RM:            d,
		Semaphores:    d,
		NewPushbuffer: d.newPushbuffer,
		CE:            ceHAL{},
		Host:          hostHAL{d: d},
		// Pushes stay in host memory.
		VidmemSize: 0,
	}
}

// Close destroys the fences still allocated and, for a device created by
// OpenDefault, the device and its instance.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sems := d.semaphores
	d.semaphores = nil
	d.mu.Unlock()

	for _, s := range sems {
		d.device.DestroyFence(s.fence)
	}
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
		d.instance = nil
	}
	return nil
}

// QueryCopyEngineCaps reports the queue as one copy engine able to serve
// every workload type.
func (d *Device) QueryCopyEngineCaps() ([]gpuchan.CopyEngineCaps, error) {
	return []gpuchan.CopyEngineCaps{{
		Supported:   true,
		Sysmem:      true,
		SysmemRead:  true,
		SysmemWrite: true,
		P2P:         true,
		PCEMask:     0x1,
	}}, nil
}
