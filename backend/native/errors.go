// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoHAL is returned when a device provider does not expose HAL
	// device and queue handles.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrClosed is returned when allocating on a closed device.
	ErrClosed = errors.New("native: device closed")

	// ErrBadChannel is returned for a handle that does not belong to the
	// device.
	ErrBadChannel = errors.New("native: foreign or destroyed channel")
)
