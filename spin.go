package gpuchan

import (
	"runtime"
	"time"
)

// DefaultSpinWarnTimeout is how long a spin loop may run before it logs a
// warning. The loop keeps spinning after the warning.
const DefaultSpinWarnTimeout = 10 * time.Second

// spinCheckInterval is the number of iterations between clock reads.
const spinCheckInterval = 1024

// Backoff is the pause taken between iterations of a polling loop.
// A Backoff must never block on a synchronization primitive: waiting for
// ring space or GPU progress is always polling.
//
// A fresh Backoff is obtained for every loop, so implementations may keep
// per-loop state.
type Backoff interface {
	Spin()
}

// SpinLoop is the default Backoff. Each iteration yields the processor;
// every spinCheckInterval iterations it checks the elapsed time and logs a
// warning once the loop has been running for longer than the warn timeout.
type SpinLoop struct {
	warnAfter time.Duration
	iter      uint64
	start     time.Time
	warned    time.Time
}

// NewSpinLoop returns a SpinLoop warning after warnAfter.
// A non-positive warnAfter uses DefaultSpinWarnTimeout.
func NewSpinLoop(warnAfter time.Duration) *SpinLoop {
	if warnAfter <= 0 {
		warnAfter = DefaultSpinWarnTimeout
	}
	return &SpinLoop{warnAfter: warnAfter}
}

// Spin yields and occasionally checks for a stuck loop.
func (s *SpinLoop) Spin() {
	runtime.Gosched()
	s.iter++
	if s.iter%spinCheckInterval != 1 {
		return
	}

	now := time.Now()
	if s.start.IsZero() {
		s.start = now
		s.warned = now
		return
	}
	if now.Sub(s.warned) >= s.warnAfter {
		Logger().Warn("gpuchan: stuck in spin loop",
			"elapsed", now.Sub(s.start),
			"iterations", s.iter)
		s.warned = now
	}
}

// Iterations returns the number of Spin calls so far.
func (s *SpinLoop) Iterations() uint64 { return s.iter }
