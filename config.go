package gpuchan

import (
	"fmt"
	"runtime"
	"time"
)

// GPFIFO sizing limits.
const (
	// DefaultGPFIFOEntries is the ring capacity used when none is configured
	// or the configured value is not a power of two.
	DefaultGPFIFOEntries = 1024

	// MinGPFIFOEntries is the smallest accepted ring capacity.
	MinGPFIFOEntries = 32

	// MaxGPFIFOEntries is the largest accepted ring capacity.
	MaxGPFIFOEntries = 1024 * 1024

	// DefaultChannelsPerPool is the number of channels in a normal pool.
	DefaultChannelsPerPool = 2

	// MaxChannelsPerPool bounds Config.ChannelsPerPool.
	MaxChannelsPerPool = 64
)

// BufferLocation is the memory placement hint for the GPFIFO ring, the
// GPPUT register shadow and the pushbuffer.
type BufferLocation int

const (
	// LocationDefault lets the resource manager choose.
	LocationDefault BufferLocation = iota
	// LocationSys places the buffer in system memory.
	LocationSys
	// LocationVid places the buffer in device (video) memory.
	LocationVid
)

// String returns the knob spelling of the location: "auto", "sys" or "vid".
func (l BufferLocation) String() string {
	switch l {
	case LocationDefault:
		return "auto"
	case LocationSys:
		return "sys"
	case LocationVid:
		return "vid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// ParseBufferLocation parses "auto", "sys" or "vid". The empty string is
// "auto".
func ParseBufferLocation(s string) (BufferLocation, error) {
	switch s {
	case "", "auto":
		return LocationDefault, nil
	case "sys":
		return LocationSys, nil
	case "vid":
		return LocationVid, nil
	default:
		return LocationDefault, fmt.Errorf("gpuchan: invalid buffer location %q", s)
	}
}

// Config holds the tunables of a Manager. The zero value selects defaults
// for every field.
type Config struct {
	// NumGPFIFOEntries is the ring capacity of every channel. Zero means
	// DefaultGPFIFOEntries. Out of range values are clamped to
	// [MinGPFIFOEntries, MaxGPFIFOEntries]; values that are not a power of
	// two fall back to DefaultGPFIFOEntries.
	NumGPFIFOEntries uint32

	// GPFIFOLocation, GPPutLocation and PushbufferLocation are "auto",
	// "sys" or "vid". Invalid strings are treated as "auto".
	GPFIFOLocation     string
	GPPutLocation      string
	PushbufferLocation string

	// ChannelsPerPool is the number of channels in a normal pool.
	// Zero means DefaultChannelsPerPool. Proxy pools always have one.
	ChannelsPerPool int

	// TrackAcquires enables recording of acquired values per push for
	// diagnostics.
	TrackAcquires bool

	// DisablePostSubmitBarrier skips the write barrier issued after the
	// pool lock is released at the end of a push.
	DisablePostSubmitBarrier bool

	// SpinWarnTimeout is passed to the default SpinLoop backoff.
	// Zero means DefaultSpinWarnTimeout.
	SpinWarnTimeout time.Duration
}

// Conf is the resolved configuration of a Manager.
type Conf struct {
	NumGPFIFOEntries   uint32
	GPFIFOLocation     BufferLocation
	GPPutLocation      BufferLocation
	PushbufferLocation BufferLocation
	ChannelsPerPool    int
	TrackAcquires      bool
	PostSubmitBarrier  bool
	SpinWarnTimeout    time.Duration
}

// isPowerOfTwo reports whether n is a non-zero power of two.
func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// resolveNumGPFIFOEntries normalises the ring capacity knob.
func resolveNumGPFIFOEntries(n uint32) uint32 {
	if n == 0 {
		return DefaultGPFIFOEntries
	}

	resolved := n
	if resolved < MinGPFIFOEntries {
		resolved = MinGPFIFOEntries
	} else if resolved > MaxGPFIFOEntries {
		resolved = MaxGPFIFOEntries
	}
	if !isPowerOfTwo(resolved) {
		resolved = DefaultGPFIFOEntries
	}

	if resolved != n {
		Logger().Info("gpuchan: invalid value for NumGPFIFOEntries, using default",
			"value", n, "using", resolved)
	}
	return resolved
}

// parseLocationKnob parses a location knob, falling back to auto with a
// diagnostic.
func parseLocationKnob(name, value string) BufferLocation {
	loc, err := ParseBufferLocation(value)
	if err != nil {
		Logger().Info("gpuchan: invalid value for "+name+", using auto", "value", value)
		return LocationDefault
	}
	return loc
}

// resolveConfig turns user tunables into the configuration used by the
// manager, applying the platform's placement constraints.
func resolveConfig(cfg Config, p *Platform) Conf {
	conf := Conf{
		NumGPFIFOEntries:  resolveNumGPFIFOEntries(cfg.NumGPFIFOEntries),
		ChannelsPerPool:   cfg.ChannelsPerPool,
		TrackAcquires:     cfg.TrackAcquires,
		PostSubmitBarrier: !cfg.DisablePostSubmitBarrier,
		SpinWarnTimeout:   cfg.SpinWarnTimeout,
	}
	if conf.ChannelsPerPool <= 0 {
		conf.ChannelsPerPool = DefaultChannelsPerPool
	} else if conf.ChannelsPerPool > MaxChannelsPerPool {
		Logger().Info("gpuchan: invalid value for ChannelsPerPool, clamping",
			"value", conf.ChannelsPerPool, "using", MaxChannelsPerPool)
		conf.ChannelsPerPool = MaxChannelsPerPool
	}
	if conf.SpinWarnTimeout <= 0 {
		conf.SpinWarnTimeout = DefaultSpinWarnTimeout
	}

	// Devices without memory of their own keep everything in sysmem.
	if p.VidmemSize == 0 {
		conf.PushbufferLocation = LocationSys
		conf.GPFIFOLocation = LocationSys
		conf.GPPutLocation = LocationSys
		return conf
	}

	conf.PushbufferLocation = LocationSys
	if parseLocationKnob("PushbufferLocation", cfg.PushbufferLocation) == LocationVid {
		// The push encoders write with plain stores, which mapped device
		// memory does not tolerate on arm64.
		if runtime.GOARCH == "arm64" {
			Logger().Info("gpuchan: PushbufferLocation vid is not supported on arm64, using sys")
		} else {
			conf.PushbufferLocation = LocationVid
		}
	}

	if !p.GPFIFOInVidmemSupported {
		conf.GPFIFOLocation = LocationDefault
		conf.GPPutLocation = LocationDefault
		return conf
	}

	gpfifo := parseLocationKnob("GPFIFOLocation", cfg.GPFIFOLocation)
	gpput := parseLocationKnob("GPPutLocation", cfg.GPPutLocation)

	// Vidmem has lower latency for the ring and its put pointer, except on
	// systems whose sysmem link is fast enough to keep the ring there.
	conf.GPFIFOLocation = LocationVid
	conf.GPPutLocation = LocationVid
	if p.SysmemLink >= LinkNVLink2 {
		conf.GPFIFOLocation = LocationSys
	}

	if gpfifo != LocationDefault {
		conf.GPFIFOLocation = gpfifo
	}
	if gpput != LocationDefault {
		conf.GPPutLocation = gpput
		if gpput == LocationSys {
			Logger().Warn("gpuchan: GPPUT in sysmem is not supported in production and may hang the device")
		}
	}
	return conf
}
