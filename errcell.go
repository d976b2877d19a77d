package gpuchan

import "sync/atomic"

// ErrorCell is a set-once fatal error latch shared by every manager of a
// device (or of a process). The first SetFatal wins; later calls are
// ignored. Every spin loop in the engine polls Err and fails fast once the
// latch is set.
//
// The zero value is an empty latch ready for use.
type ErrorCell struct {
	err atomic.Pointer[error]
}

// NewErrorCell returns an empty latch.
func NewErrorCell() *ErrorCell { return &ErrorCell{} }

// Err returns the latched error, or nil.
func (c *ErrorCell) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

// SetFatal latches err if the cell is empty. It reports whether this call
// set the latch. A nil err is ignored.
func (c *ErrorCell) SetFatal(err error) bool {
	if err == nil {
		return false
	}
	return c.err.CompareAndSwap(nil, &err)
}
