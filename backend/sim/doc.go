// Package sim provides a software GPU for gpuchan.
//
// The simulated device has a copy engine capability table, allocates
// channels with a GPFIFO ring and a GPPUT register, keeps semaphores in
// host memory and owns a chunked pushbuffer. Its consumer fetches ring
// descriptors, decodes the pushes (see internal/methods) and executes
// them, releasing tracking semaphores as real hardware would.
//
// Execution is driven in one of three ways:
//   - Config.AutoComplete executes work as soon as the doorbell is rung
//   - Run executes work on a background goroutine until its context ends
//   - Process executes whatever is pending, once, on the caller
//
// Faults can be injected per channel (InjectError) to exercise the error
// paths of the engine.
package sim
