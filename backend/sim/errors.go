// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import "errors"

// Simulator errors.
var (
	// ErrNoEngine is returned when a channel is requested on an engine that
	// does not exist or is not supported.
	ErrNoEngine = errors.New("sim: no such copy engine")

	// ErrAllocInjected is returned by an allocation failed on purpose with
	// Config.FailChannelAlloc.
	ErrAllocInjected = errors.New("sim: injected allocation failure")

	// ErrBadChannel is returned when a handle does not belong to the GPU.
	ErrBadChannel = errors.New("sim: foreign or destroyed channel")
)
