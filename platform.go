package gpuchan

import "sync/atomic"

// MaxPushSize is the largest encoded push accepted by Push.End, including
// the trailing completion signal.
const MaxPushSize = 128 * 1024

// ChunkSize is the capacity of every pushbuffer chunk. The bytes past
// MaxPushSize let an oversized push be encoded completely and rejected.
const ChunkSize = MaxPushSize + 4096

// MaxCopyEngines is the number of copy engine slots in a capability table.
const MaxCopyEngines = 32

// CopyEngineCaps describes one physical copy engine.
type CopyEngineCaps struct {
	// Supported reports whether the engine exists and can be used at all.
	Supported bool
	// GRCE marks engines reserved for graphics; they are never used.
	GRCE bool
	// Sysmem reports whether the engine can access system memory.
	Sysmem bool
	// SysmemRead and SysmemWrite mark fast system memory read/write paths.
	SysmemRead  bool
	SysmemWrite bool
	// P2P reports peer-to-peer support; NVLinkP2P marks peer access over a
	// fast interconnect.
	P2P       bool
	NVLinkP2P bool
	// PCEMask is the set of physical engines this logical engine drives.
	PCEMask uint32
	// Shared reports that the physical engines are shared with another
	// logical engine.
	Shared bool
}

// LinkType is the kind of link between the device and system memory.
type LinkType int

const (
	LinkPCIe LinkType = iota
	LinkNVLink1
	LinkNVLink2
	LinkNVLink3
)

// ChannelAllocParams is passed to ResourceManager.AllocateChannel.
type ChannelAllocParams struct {
	NumGPFIFOEntries uint32
	GPFIFOLocation   BufferLocation
	GPPutLocation    BufferLocation
	EngineIndex      uint32
	// Proxy requests the channel in the proxy address space used by the
	// single-channel pool under SR-IOV heavy virtualization.
	Proxy bool
}

// HWChannel is a hardware channel allocated by the resource manager.
type HWChannel interface {
	RunlistID() uint32
	ChannelID() uint32
	// ErrorNotifier returns the status word of the channel error notifier.
	// Zero means no error. It is written asynchronously by hardware.
	ErrorNotifier() uint32
}

// ResourceManager allocates and destroys hardware channels and reports
// copy engine capabilities.
type ResourceManager interface {
	// QueryCopyEngineCaps returns the capabilities indexed by engine. At most
	// MaxCopyEngines entries are considered.
	QueryCopyEngineCaps() ([]CopyEngineCaps, error)
	AllocateChannel(params ChannelAllocParams) (HWChannel, error)
	DestroyChannel(hw HWChannel)
}

// Semaphore is a hardware-visible 32-bit semaphore word.
type Semaphore interface {
	// GPUVA returns the address the GPU releases to. Proxy channels live in a
	// separate address space.
	GPUVA(proxy bool) uint64
	// Payload reads the current value written by the GPU.
	Payload() uint32
}

// SemaphoreAllocator hands out semaphores for channel tracking.
type SemaphoreAllocator interface {
	AllocSemaphore() (Semaphore, error)
	FreeSemaphore(s Semaphore)
}

// Chunk is a region of the pushbuffer reserved for one push. Data has
// ChunkSize bytes and is owned by the push until the chunk is
// marked completed.
type Chunk struct {
	Offset uint64
	Data   []byte
}

// Pushbuffer is the backing store of encoded commands. It is shared by all
// pools of a device and synchronises itself.
type Pushbuffer interface {
	// BeginPush reserves a chunk. It returns an error wrapping
	// ErrPushbufferFull when no chunk is available.
	BeginPush() (Chunk, error)
	// EndPush records that size bytes of c were submitted.
	EndPush(c Chunk, size uint32)
	// GPUVA returns the GPU address of the start of c.
	GPUVA(c Chunk) uint64
	// MarkCompleted returns c to the pushbuffer once the GPU is done with it.
	MarkCompleted(c Chunk, size uint32)
	Destroy()
}

// PushbufferFactory creates the pushbuffer of a manager.
type PushbufferFactory func(loc BufferLocation) (Pushbuffer, error)

// CopyEngineHAL encodes copy engine methods into a push.
type CopyEngineHAL interface {
	// Init encodes the one-time engine setup of a new channel.
	Init(p *Push) error
	// SemaphoreRelease encodes a release of the low 32 bits of value to va.
	SemaphoreRelease(p *Push, va uint64, value uint64) error
}

// HostHAL drives the host interface of a channel.
type HostHAL interface {
	// Init encodes the one-time host setup of a new channel.
	Init(p *Push) error
	// SetGPFIFOEntry writes the ring descriptor at index.
	SetGPFIFOEntry(hw HWChannel, index uint32, pushbufferVA uint64, size uint32)
	// WriteGPPut rings the doorbell: hardware may consume every descriptor
	// before put as soon as this returns.
	WriteGPPut(hw HWChannel, put uint32)
}

// Barriers orders CPU stores against the hardware consumer.
type Barriers interface {
	// Full makes all previous loads and stores visible before any later one.
	Full()
	// Write orders previous stores before later stores.
	Write()
}

// ECCNotifier reports pending ECC memory errors.
type ECCNotifier interface {
	Enabled() bool
	Pending() bool
}

// Platform bundles the collaborators and facts of one device.
// The encoder sets are chosen once when the platform is built.
type Platform struct {
	// Name identifies the device in diagnostics.
	Name string
	// ID is the device identity recorded in acquire tracking.
	ID uint32

	RM            ResourceManager
	Semaphores    SemaphoreAllocator
	NewPushbuffer PushbufferFactory
	CE            CopyEngineHAL
	Host          HostHAL

	// Barriers defaults to sequentially consistent atomic fences.
	Barriers Barriers
	// ECC may be nil when ECC is not enabled.
	ECC ECCNotifier

	// VidmemSize is the amount of device memory. Zero forces every buffer
	// into system memory.
	VidmemSize uint64
	// GPFIFOInVidmemSupported enables the GPFIFO and GPPUT location knobs.
	GPFIFOInVidmemSupported bool
	SysmemLink              LinkType
	// ProxyChannelPool adds a single-channel pool dedicated to Misc work.
	ProxyChannelPool bool
}

// atomicBarriers implements Barriers with an atomic read-modify-write, which
// the Go memory model orders as a full fence.
type atomicBarriers struct {
	seq atomic.Uint64
}

func (b *atomicBarriers) Full()  { b.seq.Add(1) }
func (b *atomicBarriers) Write() { b.seq.Add(1) }
