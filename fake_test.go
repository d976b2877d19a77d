package gpuchan

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gpuchan/internal/methods"
)

// fakeGPU is a minimal device for engine tests. Pushes execute when the
// doorbell is rung if auto is set, or when run is called.
type fakeGPU struct {
	caps      []CopyEngineCaps
	auto      atomic.Bool
	failAlloc int
	pbLimit   int
	ecc       *fakeECC

	mu        sync.Mutex
	allocs    int
	nextID    uint32
	live      map[*fakeHW]bool
	sems      map[uint64]*fakeSem
	nextVA    uint64
	pb        *fakePushbuffer
	destroyed int
	freed     int

	full  atomic.Int64
	write atomic.Int64
}

type fakeHW struct {
	runlist, id uint32
	notifier    atomic.Uint32

	mu      sync.Mutex
	entries []uint64
	put     uint32
	get     uint32
}

func (h *fakeHW) RunlistID() uint32     { return h.runlist }
func (h *fakeHW) ChannelID() uint32     { return h.id }
func (h *fakeHW) ErrorNotifier() uint32 { return h.notifier.Load() }

type fakeSem struct {
	va uint64
	v  atomic.Uint32
}

func (s *fakeSem) GPUVA(proxy bool) uint64 {
	if proxy {
		return s.va | 1<<39
	}
	return s.va
}
func (s *fakeSem) Payload() uint32 { return s.v.Load() }

type fakeECC struct {
	pending atomic.Bool
}

func (e *fakeECC) Enabled() bool { return true }
func (e *fakeECC) Pending() bool { return e.pending.Load() }

type fakePushbuffer struct {
	mu        sync.Mutex
	limit     int
	chunks    map[uint64][]byte
	free      []uint64
	next      uint64
	inUse     int
	destroyed bool
}

func (pb *fakePushbuffer) BeginPush() (Chunk, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.limit > 0 && pb.inUse >= pb.limit {
		return Chunk{}, ErrPushbufferFull
	}
	var off uint64
	if len(pb.free) > 0 {
		off = pb.free[0]
		pb.free = pb.free[1:]
	} else {
		off = pb.next
		pb.next += ChunkSize
		pb.chunks[off] = make([]byte, ChunkSize)
	}
	pb.inUse++
	return Chunk{Offset: off, Data: pb.chunks[off]}, nil
}

func (pb *fakePushbuffer) EndPush(Chunk, uint32) {}

func (pb *fakePushbuffer) GPUVA(c Chunk) uint64 { return 0x1000 + c.Offset }

func (pb *fakePushbuffer) MarkCompleted(c Chunk, _ uint32) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.inUse--
	pb.free = append(pb.free, c.Offset)
}

func (pb *fakePushbuffer) Destroy() {
	pb.mu.Lock()
	pb.destroyed = true
	pb.mu.Unlock()
}

func (pb *fakePushbuffer) used() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.inUse
}

func (pb *fakePushbuffer) read(va uint64, size uint32) []byte {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	off := va - 0x1000
	return pb.chunks[off][:size]
}

// fakeCE and fakeHost encode and publish with internal/methods.
type fakeCE struct{}

func (fakeCE) Init(p *Push) error {
	return methods.Encode(p, methods.CEInit(p.Channel().Pool().Engine()))
}

func (fakeCE) SemaphoreRelease(p *Push, va, value uint64) error {
	return methods.Encode(p, methods.SemaphoreRelease(va, uint32(value)))
}

type fakeHost struct {
	g *fakeGPU
}

func (fakeHost) Init(p *Push) error { return methods.Encode(p, methods.HostInit()) }

func (h fakeHost) SetGPFIFOEntry(hw HWChannel, index uint32, va uint64, size uint32) {
	e, err := methods.PackEntry(va, size)
	if err != nil {
		panic(err)
	}
	f := hw.(*fakeHW)
	f.mu.Lock()
	f.entries[index] = e
	f.mu.Unlock()
}

func (h fakeHost) WriteGPPut(hw HWChannel, put uint32) {
	f := hw.(*fakeHW)
	f.mu.Lock()
	f.put = put
	f.mu.Unlock()
	if h.g.auto.Load() {
		h.g.runChannel(f, -1)
	}
}

type fakeBarriers struct{ g *fakeGPU }

func (b fakeBarriers) Full()  { b.g.full.Add(1) }
func (b fakeBarriers) Write() { b.g.write.Add(1) }

var errFakeAlloc = errors.New("fake: allocation failed")

func (g *fakeGPU) QueryCopyEngineCaps() ([]CopyEngineCaps, error) { return g.caps, nil }

func (g *fakeGPU) AllocateChannel(params ChannelAllocParams) (HWChannel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allocs++
	if g.failAlloc != 0 && g.allocs == g.failAlloc {
		return nil, errFakeAlloc
	}
	hw := &fakeHW{
		runlist: params.EngineIndex,
		id:      g.nextID,
		entries: make([]uint64, params.NumGPFIFOEntries),
	}
	g.nextID++
	g.live[hw] = true
	return hw, nil
}

func (g *fakeGPU) DestroyChannel(hw HWChannel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.live, hw.(*fakeHW))
	g.destroyed++
}

func (g *fakeGPU) AllocSemaphore() (Semaphore, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &fakeSem{va: 0x100000 + g.nextVA}
	g.nextVA += 16
	g.sems[s.va] = s
	return s, nil
}

func (g *fakeGPU) FreeSemaphore(s Semaphore) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sems, s.(*fakeSem).va)
	g.freed++
}

func (g *fakeGPU) newPushbuffer(BufferLocation) (Pushbuffer, error) {
	pb := &fakePushbuffer{limit: g.pbLimit, chunks: make(map[uint64][]byte)}
	g.mu.Lock()
	g.pb = pb
	g.mu.Unlock()
	return pb, nil
}

// runChannel executes up to max published entries of hw; max < 0 means
// all of them.
func (g *fakeGPU) runChannel(hw *fakeHW, max int) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	for n := 0; hw.get != hw.put && (max < 0 || n < max); n++ {
		va, size := methods.UnpackEntry(hw.entries[hw.get])
		err := methods.Walk(g.pb.read(va, size), func(m methods.Method) error {
			if m.Op == methods.OpSemaphoreRelease {
				g.mu.Lock()
				s := g.sems[m.B&^(1<<39)]
				g.mu.Unlock()
				s.v.Store(m.A)
			}
			return nil
		})
		if err != nil {
			panic(err)
		}
		hw.get = (hw.get + 1) % uint32(len(hw.entries))
	}
}

// run executes every published entry of every channel.
func (g *fakeGPU) run() {
	g.mu.Lock()
	hws := make([]*fakeHW, 0, len(g.live))
	for hw := range g.live {
		hws = append(hws, hw)
	}
	g.mu.Unlock()
	for _, hw := range hws {
		g.runChannel(hw, -1)
	}
}

func (g *fakeGPU) liveChannels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

func (g *fakeGPU) liveSemaphores() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sems)
}

func newFakeGPU(caps []CopyEngineCaps) *fakeGPU {
	g := &fakeGPU{
		caps: caps,
		live: make(map[*fakeHW]bool),
		sems: make(map[uint64]*fakeSem),
	}
	g.auto.Store(true)
	return g
}

func (g *fakeGPU) platform() Platform {
	p := Platform{
		Name:          "fake0",
		ID:            7,
		RM:            g,
		Semaphores:    g,
		NewPushbuffer: g.newPushbuffer,
		CE:            fakeCE{},
		Host:          fakeHost{g: g},
		Barriers:      fakeBarriers{g: g},
	}
	if g.ecc != nil {
		p.ECC = g.ecc
	}
	return p
}

// twoEngineCaps has two usable engines; every type maps to one of them.
func twoEngineCaps() []CopyEngineCaps {
	return []CopyEngineCaps{
		{Supported: true, Sysmem: true, SysmemRead: true, P2P: true, PCEMask: 0x1},
		{Supported: true, Sysmem: true, SysmemWrite: true, P2P: true, PCEMask: 0x6},
	}
}

// countingBackoff counts spins and runs hook on every spin.
type countingBackoff struct {
	spins int
	hook  func(n int)
}

func (b *countingBackoff) Spin() {
	b.spins++
	if b.hook != nil {
		b.hook(b.spins)
	}
}

// newTestManager creates a manager on a fake GPU with two engines. The
// GPU completes work on the doorbell until auto is cleared.
func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *fakeGPU) {
	t.Helper()
	g := newFakeGPU(twoEngineCaps())
	return newTestManagerOn(t, g, cfg, opts...), g
}

// newTestManagerOn creates a manager on g.
func newTestManagerOn(t *testing.T, g *fakeGPU, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(g.platform(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}

// pending returns the number of unreclaimed ring entries of c.
func pending(c *Channel) uint32 {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return pendingEntries(c.cpuPut, c.gpuGet, c.numEntries)
}

// reserved returns the number of outstanding reservations of c.
func reserved(c *Channel) uint32 {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.currentPushes
}

// newBareChannel adds an uninitialized channel with n ring entries to
// pool. It bypasses the capacity normalisation of Config.
func newBareChannel(t *testing.T, pool *Pool, n uint32) *Channel {
	t.Helper()
	m := pool.manager
	saved := m.conf.NumGPFIFOEntries
	m.conf.NumGPFIFOEntries = n
	c, err := newChannel(pool)
	m.conf.NumGPFIFOEntries = saved
	if err != nil {
		t.Fatalf("newChannel() error = %v", err)
	}
	t.Cleanup(c.destroy)
	return c
}

// pushOn reserves c, pushes one empty push and ends it.
func pushOn(t *testing.T, c *Channel, desc string, opts ...PushOption) *Push {
	t.Helper()
	if !c.tryClaim() {
		t.Fatalf("%s: channel %s full", desc, c.name)
	}
	p, err := c.BeginPush(desc, opts...)
	if err != nil {
		t.Fatalf("%s: BeginPush() error = %v", desc, err)
	}
	if err := p.End(); err != nil {
		t.Fatalf("%s: End() error = %v", desc, err)
	}
	return p
}
