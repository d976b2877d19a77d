package backend

import (
	"errors"

	"github.com/gogpu/gpuchan"
)

// Backend names.
const (
	BackendNative = "native"
	BackendSim    = "sim"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no backend could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Device is an opened GPU a channel manager can run on.
type Device interface {
	// Name returns the backend identifier (e.g., "sim", "native").
	Name() string

	// Platform returns the collaborators of the device.
	Platform() gpuchan.Platform

	// Close releases the device. Managers created on it must be destroyed
	// first.
	Close() error
}
