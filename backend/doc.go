// Package backend provides a registry of device backends.
//
// A backend turns a GPU (real or simulated) into the gpuchan.Platform a
// channel manager is created from. Backends register themselves from
// init() functions and are selected at runtime:
//
//	import _ "github.com/gogpu/gpuchan/backend/sim"
//
//	dev, err := backend.Open(backend.BackendSim)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	m, err := gpuchan.NewManager(dev.Platform(), gpuchan.Config{})
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL device (Vulkan)
//   - "sim": software GPU executing the command stream (always available)
package backend
