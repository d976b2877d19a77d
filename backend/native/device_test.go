// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuchan"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

// mockQueue implements gpucontext.Queue for testing.
type mockQueue struct{}

// mockAdapter implements gpucontext.Adapter for testing.
type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider for testing.
type mockProvider struct{}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

// mockHALProvider also exposes HAL handles, like a gogpu context.
type mockHALProvider struct {
	mockProvider
	device hal.Device
	queue  hal.Queue
}

func (m *mockHALProvider) HalDevice() any { return m.device }
func (m *mockHALProvider) HalQueue() any  { return m.queue }

func TestOpenWithoutHAL(t *testing.T) {
	if _, err := Open(&mockProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("Open() error = %v, want ErrNoHAL", err)
	}
}

func TestOpenWrongHALTypes(t *testing.T) {
	p := &mockHALProvider{}
	if _, err := Open(p); !errors.Is(err, ErrNoHAL) {
		t.Errorf("Open() error = %v, want ErrNoHAL", err)
	}
}

func TestOpenWithHAL(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d, err := Open(&mockHALProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close()

	if d.Name() != "native" {
		t.Errorf("Name() = %q, want native", d.Name())
	}
	caps, err := d.QueryCopyEngineCaps()
	if err != nil || len(caps) != 1 {
		t.Fatalf("QueryCopyEngineCaps() = %v, %v; want one engine", caps, err)
	}
	sel, err := gpuchan.SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	for ty, ce := range sel.Preferred {
		if ce != 0 {
			t.Errorf("type %v on CE %d, want 0", gpuchan.WorkloadType(ty), ce)
		}
	}
}

func TestManagerOnNoopDevice(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewDevice("noop", device, queue)
	defer d.Close()

	m, err := gpuchan.NewManager(d.Platform(), gpuchan.Config{NumGPFIFOEntries: 32})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Destroy()

	if len(m.Pools()) != 1 {
		t.Fatalf("pools = %d, want 1", len(m.Pools()))
	}

	for i := range 40 {
		p, err := m.Push(gpuchan.DeviceInternal, "noop work")
		if err != nil {
			t.Fatalf("push %d: Push() error = %v", i, err)
		}
		if err := p.EndAndWait(); err != nil {
			t.Fatalf("push %d: EndAndWait() error = %v", i, err)
		}
	}

	if err := m.WaitAll(); err != nil {
		t.Fatalf("WaitAll() error = %v", err)
	}
	if err := m.CheckErrors(); err != nil {
		t.Errorf("CheckErrors() = %v", err)
	}
}

func TestFenceSemaphoreExtend(t *testing.T) {
	s := &fenceSemaphore{}
	if got := s.extend(5); got != 5 {
		t.Errorf("extend(5) = %d, want 5", got)
	}
	s.signaled.Store(0xffff_fff0)
	if got := s.extend(0x10); got != 1<<32|0x10 {
		t.Errorf("extend across wrap = 0x%x, want 0x%x", got, uint64(1<<32 | 0x10))
	}
}

func TestPushbufferReadsStagedBytes(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewDevice("noop", device, queue)
	defer d.Close()

	pb, err := d.newPushbuffer(gpuchan.LocationSys)
	if err != nil {
		t.Fatalf("newPushbuffer() error = %v", err)
	}
	defer pb.Destroy()

	c, err := pb.BeginPush()
	if err != nil {
		t.Fatalf("BeginPush() error = %v", err)
	}
	copy(c.Data, "push")
	pb.EndPush(c, 4)

	got, err := d.pb.read(pb.GPUVA(c), 4)
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if string(got) != "push" {
		t.Errorf("read() = %q, want %q", got, "push")
	}
	pb.MarkCompleted(c, 4)
}

func TestDeviceClose(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewDevice("noop", device, queue)
	if _, err := d.AllocSemaphore(); err != nil {
		t.Fatalf("AllocSemaphore() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := d.AllocSemaphore(); !errors.Is(err, ErrClosed) {
		t.Errorf("AllocSemaphore() after Close error = %v, want ErrClosed", err)
	}
	if _, err := d.AllocateChannel(gpuchan.ChannelAllocParams{NumGPFIFOEntries: 32}); !errors.Is(err, ErrClosed) {
		t.Errorf("AllocateChannel() after Close error = %v, want ErrClosed", err)
	}
}
