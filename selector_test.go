package gpuchan

import (
	"errors"
	"testing"
)

func TestSelectEnginesHostToDevicePrefersSysmemRead(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, Sysmem: true, PCEMask: 0x1},                                // B
		{Supported: true, Sysmem: true, SysmemRead: true, P2P: true, PCEMask: 0x2}, // A
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	if got := sel.Preferred[HostToDevice]; got != 1 {
		t.Errorf("HostToDevice engine = %d, want 1", got)
	}
}

func TestSelectEnginesAvoidsNVLinkForSysmem(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, Sysmem: true, SysmemRead: true, SysmemWrite: true, NVLinkP2P: true, P2P: true, PCEMask: 0x1},
		{Supported: true, Sysmem: true, SysmemRead: true, SysmemWrite: true, PCEMask: 0x2},
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	if got := sel.Preferred[HostToDevice]; got != 1 {
		t.Errorf("HostToDevice engine = %d, want 1", got)
	}
	if got := sel.Preferred[DeviceToHost]; got != 1 {
		t.Errorf("DeviceToHost engine = %d, want 1", got)
	}
}

func TestSelectEnginesPeerPrefersMostPCEs(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, Sysmem: true, P2P: true, PCEMask: 0x1},
		{Supported: true, Sysmem: true, P2P: true, PCEMask: 0x6},
		{Supported: true, Sysmem: true, PCEMask: 0xf0},
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	if got := sel.Preferred[DeviceToDevice]; got != 1 {
		t.Errorf("DeviceToDevice engine = %d, want 1", got)
	}
	if got := sel.Preferred[DeviceInternal]; got != 2 {
		t.Errorf("DeviceInternal engine = %d, want 2", got)
	}
}

func TestSelectEnginesSpreadsUsage(t *testing.T) {
	caps := make([]CopyEngineCaps, 4)
	for i := range caps {
		caps[i] = CopyEngineCaps{Supported: true, Sysmem: true, P2P: true, PCEMask: 0x1 << i}
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	want := [WorkloadCount]uint32{
		HostToDevice:   0,
		DeviceToHost:   1,
		DeviceInternal: 2,
		DeviceToDevice: 3,
		Misc:           0,
	}
	if sel.Preferred != want {
		t.Errorf("Preferred = %v, want %v", sel.Preferred, want)
	}
	if sel.Mask != 0xf {
		t.Errorf("Mask = 0x%x, want 0xf", sel.Mask)
	}
}

func TestSelectEnginesPrefersUnshared(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, Sysmem: true, P2P: true, Shared: true, PCEMask: 0x1},
		{Supported: true, Sysmem: true, P2P: true, PCEMask: 0x2},
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	if got := sel.Preferred[HostToDevice]; got != 1 {
		t.Errorf("HostToDevice engine = %d, want the unshared engine 1", got)
	}
}

func TestSelectEnginesSkipsUnusable(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, GRCE: true, Sysmem: true, P2P: true, PCEMask: 0x1},
		{Supported: false, Sysmem: true, P2P: true, PCEMask: 0x2},
		{Supported: true, Sysmem: true, P2P: true, PCEMask: 0x4},
	}
	sel, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	if sel.Mask != 0x4 {
		t.Errorf("Mask = 0x%x, want 0x4", sel.Mask)
	}
	for _, typ := range selectionOrder {
		if sel.Preferred[typ] != 2 {
			t.Errorf("%s engine = %d, want 2", typ, sel.Preferred[typ])
		}
	}
}

func TestSelectEnginesNotSupported(t *testing.T) {
	tests := []struct {
		name string
		caps []CopyEngineCaps
	}{
		{"empty", nil},
		{"graphics only", []CopyEngineCaps{{Supported: true, GRCE: true, Sysmem: true, P2P: true}}},
		{"no sysmem", []CopyEngineCaps{{Supported: true, P2P: true}}},
		{"no p2p", []CopyEngineCaps{{Supported: true, Sysmem: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SelectEngines(tt.caps); !errors.Is(err, ErrNotSupported) {
				t.Errorf("SelectEngines() error = %v, want ErrNotSupported", err)
			}
		})
	}
}

func TestSelectEnginesDeterministic(t *testing.T) {
	caps := []CopyEngineCaps{
		{Supported: true, GRCE: true, Sysmem: true, PCEMask: 0x1},
		{Supported: true, Sysmem: true, SysmemRead: true, P2P: true, PCEMask: 0x4},
		{Supported: true, Sysmem: true, SysmemWrite: true, P2P: true, PCEMask: 0x8},
		{Supported: true, Sysmem: true, P2P: true, NVLinkP2P: true, PCEMask: 0x30},
		{Supported: true, Sysmem: true, P2P: true, Shared: true, PCEMask: 0xc0},
	}
	first, err := SelectEngines(caps)
	if err != nil {
		t.Fatalf("SelectEngines() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := SelectEngines(caps)
		if err != nil {
			t.Fatalf("SelectEngines() error = %v", err)
		}
		if again != first {
			t.Fatalf("run %d: %+v, want %+v", i, again, first)
		}
	}

	if first.Preferred[HostToDevice] != 1 || first.Preferred[DeviceToHost] != 2 {
		t.Errorf("sysmem engines = %d/%d, want 1/2",
			first.Preferred[HostToDevice], first.Preferred[DeviceToHost])
	}
	if first.Preferred[DeviceToDevice] != 3 {
		t.Errorf("DeviceToDevice engine = %d, want 3", first.Preferred[DeviceToDevice])
	}
}

func TestSelectEnginesTruncatesCaps(t *testing.T) {
	caps := make([]CopyEngineCaps, MaxCopyEngines+4)
	caps[MaxCopyEngines+1] = CopyEngineCaps{Supported: true, Sysmem: true, P2P: true}
	if _, err := SelectEngines(caps); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SelectEngines() error = %v, want ErrNotSupported", err)
	}
}

func TestPoolIndex(t *testing.T) {
	sel := EngineSelection{Mask: 0b10110}
	tests := []struct {
		ce   uint32
		want int
	}{
		{1, 0},
		{2, 1},
		{4, 2},
	}
	for _, tt := range tests {
		if got := sel.PoolIndex(tt.ce); got != tt.want {
			t.Errorf("PoolIndex(%d) = %d, want %d", tt.ce, got, tt.want)
		}
	}
}
