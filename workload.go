package gpuchan

import "fmt"

// WorkloadType classifies submitted work. Each type maps to exactly one
// default pool; DeviceToDevice may additionally be overridden per peer.
type WorkloadType int

const (
	// HostToDevice copies from system memory into device memory.
	HostToDevice WorkloadType = iota
	// DeviceToHost copies from device memory into system memory.
	DeviceToHost
	// DeviceInternal operates on device memory only.
	DeviceInternal
	// DeviceToDevice copies between peer devices.
	DeviceToDevice
	// Misc is small, latency sensitive work such as memory operations.
	Misc

	// WorkloadCount is the number of workload types.
	WorkloadCount
)

// selectionOrder is the order in which engines are picked. It matters
// because every pick raises the usage count seen by later picks; Misc goes
// last since it only cares about low usage.
var selectionOrder = [WorkloadCount]WorkloadType{
	HostToDevice,
	DeviceToHost,
	DeviceInternal,
	DeviceToDevice,
	Misc,
}

// String returns the name of the workload type.
func (t WorkloadType) String() string {
	switch t {
	case HostToDevice:
		return "HostToDevice"
	case DeviceToHost:
		return "DeviceToHost"
	case DeviceInternal:
		return "DeviceInternal"
	case DeviceToDevice:
		return "DeviceToDevice"
	case Misc:
		return "Misc"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// valid reports whether t is one of the defined workload types.
func (t WorkloadType) valid() bool {
	return t >= 0 && t < WorkloadCount
}

// PeerID identifies a peer device for device-to-device transfers.
type PeerID uint32
