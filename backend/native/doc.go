// Package native runs gpuchan on gogpu/wgpu HAL devices.
//
// Each channel's tracking semaphore is a HAL timeline fence. Ringing a
// channel's doorbell walks the new ring entries on the CPU, reading the
// pushes from host memory, and turns every semaphore release into a queue
// submission signaling the fence to the released value. Completion
// is read back with non-blocking fence waits.
//
// The device exposes a single copy engine serving every workload type.
//
// A device is obtained from an existing gogpu context:
//
//	dev, err := native.Open(provider) // gpucontext.DeviceProvider
//
// or created standalone on the Vulkan backend with OpenDefault.
package native
