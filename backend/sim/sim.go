// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"cmp"
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/backend"
)

// init registers the sim backend on package import.
func init() {
	backend.Register(backend.BackendSim, func() (backend.Device, error) {
		return New(Config{AutoComplete: true}), nil
	})
}

// DefaultPushbufferChunks is the number of pushbuffer chunks of a GPU
// when Config.PushbufferChunks is zero.
const DefaultPushbufferChunks = 256

// Config describes the simulated device.
type Config struct {
	// Name identifies the device in diagnostics. Default "sim0".
	Name string
	// ID is the device identity. Default 0.
	ID uint32

	// Engines is the copy engine capability table. Nil uses DefaultEngines.
	Engines []gpuchan.CopyEngineCaps

	// AutoComplete executes pushes synchronously when the doorbell is rung.
	AutoComplete bool

	// PushbufferChunks bounds the number of pushes in flight across the
	// device. Zero means DefaultPushbufferChunks.
	PushbufferChunks int

	// VidmemSize, GPFIFOInVidmemSupported, SysmemLink and ProxyChannelPool
	// are reported in the platform.
	VidmemSize              uint64
	GPFIFOInVidmemSupported bool
	SysmemLink              gpuchan.LinkType
	ProxyChannelPool        bool

	// ECC enables the ECC notifier.
	ECC bool

	// FailChannelAlloc makes the n-th channel allocation (1-based) fail
	// with ErrAllocInjected. Zero disables injection.
	FailChannelAlloc int
}

// DefaultEngines returns a capability table with two graphics engines and
// four asynchronous copy engines of varying strengths.
func DefaultEngines() []gpuchan.CopyEngineCaps {
	return []gpuchan.CopyEngineCaps{
		{Supported: true, GRCE: true, Sysmem: true, PCEMask: 0x1},
		{Supported: true, GRCE: true, Sysmem: true, PCEMask: 0x2},
		{Supported: true, Sysmem: true, SysmemRead: true, P2P: true, PCEMask: 0x4},
		{Supported: true, Sysmem: true, SysmemWrite: true, P2P: true, PCEMask: 0x8},
		{Supported: true, Sysmem: true, P2P: true, NVLinkP2P: true, PCEMask: 0x30},
		{Supported: true, Sysmem: true, P2P: true, PCEMask: 0xc0},
	}
}

// Stats counts the work executed by the GPU.
type Stats struct {
	Entries  uint64
	Bytes    uint64
	Copies   uint64
	Releases uint64
	Inits    uint64
}

// GPU is a simulated device. It implements gpuchan.ResourceManager,
// gpuchan.SemaphoreAllocator and gpuchan.ECCNotifier.
type GPU struct {
	cfg Config
	log atomic.Pointer[slog.Logger]

	mu         sync.RWMutex
	channels   map[uint32]*Channel
	nextID     uint32
	allocs     int
	params     []gpuchan.ChannelAllocParams
	semaphores map[uint64]*semaphore
	nextSemVA  uint64

	pb atomic.Pointer[Pushbuffer]

	stalled    atomic.Bool
	eccPending atomic.Bool

	entries  atomic.Uint64
	bytes    atomic.Uint64
	copies   atomic.Uint64
	releases atomic.Uint64
	inits    atomic.Uint64
}

// New creates a simulated GPU.
func New(cfg Config) *GPU {
	if cfg.Name == "" {
		cfg.Name = "sim0"
	}
	if cfg.Engines == nil {
		cfg.Engines = DefaultEngines()
	}
	if cfg.PushbufferChunks <= 0 {
		cfg.PushbufferChunks = DefaultPushbufferChunks
	}
	g := &GPU{
		cfg:        cfg,
		channels:   make(map[uint32]*Channel),
		semaphores: make(map[uint64]*semaphore),
		nextSemVA:  semaphoreBase,
	}
	g.log.Store(slog.New(slog.DiscardHandler))
	return g
}

// Name returns the backend identifier.
func (g *GPU) Name() string { return backend.BackendSim }

// SetLogger sets the logger of the GPU. gpuchan.NewManager propagates its
// logger here.
func (g *GPU) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	g.log.Store(l)
}

func (g *GPU) logger() *slog.Logger { return g.log.Load() }

// Platform returns the collaborators of the GPU.
func (g *GPU) Platform() gpuchan.Platform {
	p := gpuchan.Platform{
		Name:                    g.cfg.Name,
		ID:                      g.cfg.ID,
		RM:                      g,
		Semaphores:              g,
		NewPushbuffer:           g.newPushbuffer,
		CE:                      ceHAL{g: g},
		Host:                    hostHAL{g: g},
		VidmemSize:              g.cfg.VidmemSize,
		GPFIFOInVidmemSupported: g.cfg.GPFIFOInVidmemSupported,
		SysmemLink:              g.cfg.SysmemLink,
		ProxyChannelPool:        g.cfg.ProxyChannelPool,
	}
	if g.cfg.ECC {
		p.ECC = g
	}
	return p
}

// Close releases nothing; it exists to satisfy backend.Device.
func (g *GPU) Close() error { return nil }

// Enabled reports whether ECC is enabled.
func (g *GPU) Enabled() bool { return g.cfg.ECC }

// Pending reports whether an ECC error is pending.
func (g *GPU) Pending() bool { return g.eccPending.Load() }

// Stall stops (true) or resumes (false) execution. Work submitted while
// stalled stays pending; with AutoComplete it is executed on resume.
func (g *GPU) Stall(stalled bool) {
	g.stalled.Store(stalled)
	if !stalled && g.cfg.AutoComplete {
		g.Process()
	}
}

// InjectError raises a fault on hw. With ecc the device also reports a
// pending ECC error. The channel stops executing.
func (g *GPU) InjectError(hw gpuchan.HWChannel, ecc bool) error {
	ch, err := g.lookup(hw)
	if err != nil {
		return err
	}
	if ecc {
		g.eccPending.Store(true)
	}
	ch.fault(errorNotifierRC)
	g.logger().Warn("sim: fault injected", "gpu", g.cfg.Name, "channel", ch.id, "ecc", ecc)
	return nil
}

// ClearECC clears a pending ECC error.
func (g *GPU) ClearECC() { g.eccPending.Store(false) }

// AllocParams returns the parameters of every channel allocation so far.
func (g *GPU) AllocParams() []gpuchan.ChannelAllocParams {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]gpuchan.ChannelAllocParams(nil), g.params...)
}

// Channels returns the live channels ordered by id.
func (g *GPU) Channels() []*Channel {
	g.mu.RLock()
	out := make([]*Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		out = append(out, ch)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Channel) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Stats returns the work executed so far.
func (g *GPU) Stats() Stats {
	return Stats{
		Entries:  g.entries.Load(),
		Bytes:    g.bytes.Load(),
		Copies:   g.copies.Load(),
		Releases: g.releases.Load(),
		Inits:    g.inits.Load(),
	}
}

// Pushbuffer returns the pushbuffer created by the last manager, or nil.
func (g *GPU) Pushbuffer() *Pushbuffer { return g.pb.Load() }

// Process executes the pending work of every channel once and returns the
// number of ring entries executed.
func (g *GPU) Process() int {
	n := 0
	for _, ch := range g.Channels() {
		n += g.execute(ch)
	}
	return n
}

// Run executes work until ctx is done. Idle iterations yield the
// processor.
func (g *GPU) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if g.Process() == 0 {
			runtime.Gosched()
		}
	}
}
