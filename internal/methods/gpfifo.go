// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package methods

import "errors"

// GPFIFO descriptor layout: bits 0-39 hold the pushbuffer address, bits
// 42-63 the length in 4-byte words.
const (
	entryVABits     = 40
	entryLengthBit  = 42
	entryVAMask     = 1<<entryVABits - 1
	entryLengthMask = 1<<(64-entryLengthBit) - 1

	// MaxEntryLength is the largest push a descriptor can describe.
	MaxEntryLength = entryLengthMask * 4
)

// ErrBadEntry is returned for an address or length a descriptor cannot
// hold.
var ErrBadEntry = errors.New("methods: address or length not representable in a GPFIFO entry")

// PackEntry builds the descriptor of a push of size bytes at va. Both must
// be 4-byte aligned.
func PackEntry(va uint64, size uint32) (uint64, error) {
	if va&3 != 0 || va&^entryVAMask != 0 || size&3 != 0 || uint64(size) > MaxEntryLength {
		return 0, ErrBadEntry
	}
	return va | uint64(size/4)<<entryLengthBit, nil
}

// UnpackEntry splits a descriptor into address and size in bytes.
func UnpackEntry(e uint64) (va uint64, size uint32) {
	return e & entryVAMask, uint32(e>>entryLengthBit) * 4 //nolint:gosec // G115: 22-bit field
}
