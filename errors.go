package gpuchan

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	// ErrNoMemory is returned when a channel, pool or manager could not
	// allocate its bookkeeping or a collaborator resource.
	ErrNoMemory = errors.New("gpuchan: out of memory")

	// ErrPushbufferFull is returned by a Pushbuffer when no command buffer
	// region is currently available. It is recoverable by retrying after
	// completed work has been reclaimed.
	ErrPushbufferFull = errors.New("gpuchan: pushbuffer full")

	// ErrNotSupported is returned when engine selection finds no copy engine
	// usable for a workload type, or when a request names an unusable engine.
	ErrNotSupported = errors.New("gpuchan: not supported")

	// ErrRCError is returned when a channel hit a robust-channel (generic
	// recoverable-context) fault.
	ErrRCError = errors.New("gpuchan: channel RC error")

	// ErrECCError is returned when a channel fault coincides with a pending
	// ECC memory error.
	ErrECCError = errors.New("gpuchan: ECC error")

	// ErrPushTooLarge is returned by Push.End when the encoded push exceeds
	// MaxPushSize. The push is rolled back.
	ErrPushTooLarge = errors.New("gpuchan: push exceeds maximum size")

	// ErrNotReserved is returned by BeginPush when the channel has no
	// reservation backing the push.
	ErrNotReserved = errors.New("gpuchan: channel not reserved")

	// ErrPushEnded is returned when a push is written to or ended twice.
	ErrPushEnded = errors.New("gpuchan: push already ended")

	// ErrInvalidPlatform is returned by NewManager when a required platform
	// collaborator is missing.
	ErrInvalidPlatform = errors.New("gpuchan: invalid platform")

	// ErrManagerDestroyed is returned when operating on a destroyed manager.
	ErrManagerDestroyed = errors.New("gpuchan: manager destroyed")
)

// ChannelError reports a fault detected on one channel.
//
// Err is ErrECCError or ErrRCError. Push, when non-nil, describes the
// oldest pending push on the channel, which is most likely the one that
// caused the fault.
type ChannelError struct {
	Channel string
	Err     error
	Push    *PushInfo
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	if e.Push != nil {
		return fmt.Sprintf("channel %s: %v (push %q at %s:%d)",
			e.Channel, e.Err, e.Push.Description, e.Push.File, e.Push.Line)
	}
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *ChannelError) Unwrap() error { return e.Err }
