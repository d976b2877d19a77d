// Package gpuchan provides a GPU command-submission engine for Go.
//
// # Overview
//
// gpuchan multiplexes bounded hardware command rings ("channels") across
// pools bound to copy engines. Each channel tracks in-flight work with a
// monotonically increasing completion counter, and a reservation protocol
// lets many goroutines push work concurrently.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/gpuchan"
//		"github.com/gogpu/gpuchan/backend/sim"
//	)
//
//	gpu := sim.New(sim.Config{AutoComplete: true})
//	m, err := gpuchan.NewManager(gpu.Platform(), gpuchan.Config{})
//	if err != nil {
//		return err
//	}
//	defer m.Destroy()
//
//	p, err := m.Push(gpuchan.HostToDevice, "upload")
//	if err != nil {
//		return err
//	}
//	// Encode commands with p.Write or p.Reserve.
//	if err := p.EndAndWait(); err != nil {
//		return err
//	}
//
// # Submission Protocol
//
// A push is submitted in two phases. Manager.Reserve (or Manager.Push)
// claims room in a channel's ring; BeginPush takes a pushbuffer chunk and a
// push slot; the caller encodes commands without holding any lock; End
// assigns the next tracking value, encodes its release, writes the ring
// descriptor and rings the doorbell, all under the pool lock.
//
// Completed ring entries are reclaimed lazily by UpdateProgress, which is
// also called by every wait loop.
//
// # Waiting
//
// No operation blocks on a channel, condition variable or timer. Waiting for
// ring space or GPU progress is a polling loop that yields through a
// Backoff and fails fast once a channel error is detected or the shared
// ErrorCell is set.
//
// # Backends
//
// The hardware is reached through the collaborators bundled in Platform:
//   - backend/sim: a software GPU executing the command stream, with fault
//     injection, for tests and tooling
//   - backend/native: gogpu/wgpu HAL devices, with timeline fences as
//     tracking semaphores
package gpuchan

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
