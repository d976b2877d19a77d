package gpuchan

import (
	"fmt"
	"math/bits"
)

// EngineSelection is the result of SelectEngines.
type EngineSelection struct {
	// Preferred is the engine chosen for each workload type.
	Preferred [WorkloadCount]uint32
	// Mask has a bit set for every engine usable by at least one type.
	Mask uint32
}

// PoolIndex returns the position of engine ce among the usable engines.
// Pools are created in engine order, one per bit of Mask.
func (s EngineSelection) PoolIndex(ce uint32) int {
	return bits.OnesCount32(s.Mask & (1<<ce - 1))
}

// usable reports whether engine caps can serve workload type t.
func usable(t WorkloadType, caps *CopyEngineCaps) bool {
	if !caps.Supported || caps.GRCE {
		return false
	}
	switch t {
	case HostToDevice, DeviceToHost:
		return caps.Sysmem
	case DeviceToDevice:
		return caps.P2P
	default:
		return true
	}
}

// compareEngines orders engines a and b for workload type t. It returns a
// negative value when a is the better choice. usage counts how many types
// already prefer each engine.
func compareEngines(t WorkloadType, a, b uint32, caps []CopyEngineCaps, usage *[MaxCopyEngines]int) int {
	ca, cb := &caps[a], &caps[b]

	switch t {
	case HostToDevice:
		if d := preferTrue(ca.SysmemRead, cb.SysmemRead); d != 0 {
			return d
		}
		// Engines wired to peer links are kept for peer traffic.
		if d := preferTrue(!ca.NVLinkP2P, !cb.NVLinkP2P); d != 0 {
			return d
		}
	case DeviceToHost:
		if d := preferTrue(ca.SysmemWrite, cb.SysmemWrite); d != 0 {
			return d
		}
		if d := preferTrue(!ca.NVLinkP2P, !cb.NVLinkP2P); d != 0 {
			return d
		}
	case DeviceToDevice:
		if d := bits.OnesCount32(cb.PCEMask) - bits.OnesCount32(ca.PCEMask); d != 0 {
			return d
		}
	case DeviceInternal:
		if d := bits.OnesCount32(cb.PCEMask) - bits.OnesCount32(ca.PCEMask); d != 0 {
			return d
		}
		if d := preferTrue(!ca.NVLinkP2P, !cb.NVLinkP2P); d != 0 {
			return d
		}
	}

	// Spread the types over engines, then avoid shared physical engines.
	if d := usage[a] - usage[b]; d != 0 {
		return d
	}
	if d := preferTrue(!ca.Shared, !cb.Shared); d != 0 {
		return d
	}
	return int(a) - int(b)
}

// preferTrue orders a true value before a false one.
func preferTrue(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// SelectEngines picks a preferred copy engine for every workload type.
//
// Types are assigned in a fixed order and each pick counts as one use of
// the engine, so the result is a pure function of caps. Only the first
// MaxCopyEngines entries of caps are considered.
func SelectEngines(caps []CopyEngineCaps) (EngineSelection, error) {
	var sel EngineSelection
	var usage [MaxCopyEngines]int

	if len(caps) > MaxCopyEngines {
		caps = caps[:MaxCopyEngines]
	}

	for _, t := range selectionOrder {
		best := -1
		for ce := range caps {
			if !usable(t, &caps[ce]) {
				continue
			}
			sel.Mask |= 1 << ce
			if best < 0 || compareEngines(t, uint32(ce), uint32(best), caps, &usage) < 0 { //nolint:gosec // G115: ce < MaxCopyEngines
				best = ce
			}
		}
		if best < 0 {
			return EngineSelection{}, fmt.Errorf("no copy engine for %s: %w", t, ErrNotSupported)
		}
		sel.Preferred[t] = uint32(best) //nolint:gosec // G115: best < MaxCopyEngines
		usage[best]++
	}

	return sel, nil
}
