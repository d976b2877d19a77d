// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package methods defines the command stream shared by the encoder sets
// and the devices executing it.
//
// A push is a sequence of fixed-size little-endian records:
//
//	offset 0  op  uint32
//	offset 4  a   uint32
//	offset 8  b   uint64
//	offset 16 c   uint64
//
// GPFIFO descriptors pack a pushbuffer address and a length into one
// 64-bit word.
package methods

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the encoded size of one method.
const RecordSize = 24

// Op is a method opcode.
type Op uint32

// Opcodes.
const (
	OpNop Op = iota
	// OpSemaphoreRelease writes A to the 32-bit semaphore at address B.
	OpSemaphoreRelease
	// OpCEInit sets up copy engine A for the channel.
	OpCEInit
	// OpHostInit sets up the host interface of the channel.
	OpHostInit
	// OpCopy copies A bytes from address B to address C.
	OpCopy
	// OpSemaphoreAcquire waits until the semaphore at B reaches A.
	OpSemaphoreAcquire

	opCount
)

// String returns the name of the opcode.
func (o Op) String() string {
	switch o {
	case OpNop:
		return "Nop"
	case OpSemaphoreRelease:
		return "SemaphoreRelease"
	case OpCEInit:
		return "CEInit"
	case OpHostInit:
		return "HostInit"
	case OpCopy:
		return "Copy"
	case OpSemaphoreAcquire:
		return "SemaphoreAcquire"
	default:
		return fmt.Sprintf("Op(%d)", uint32(o))
	}
}

// Decoding errors.
var (
	// ErrTruncated is returned when a stream ends inside a record.
	ErrTruncated = errors.New("methods: truncated record")

	// ErrUnknownOp is returned for an opcode outside the defined set.
	ErrUnknownOp = errors.New("methods: unknown opcode")
)

// Method is one decoded record.
type Method struct {
	Op Op
	A  uint32
	B  uint64
	C  uint64
}

// SemaphoreRelease returns a release of payload to va.
func SemaphoreRelease(va uint64, payload uint32) Method {
	return Method{Op: OpSemaphoreRelease, A: payload, B: va}
}

// SemaphoreAcquire returns a wait for the semaphore at va to reach payload.
func SemaphoreAcquire(va uint64, payload uint32) Method {
	return Method{Op: OpSemaphoreAcquire, A: payload, B: va}
}

// CEInit returns the setup method of copy engine ce.
func CEInit(ce uint32) Method {
	return Method{Op: OpCEInit, A: ce}
}

// HostInit returns the host interface setup method.
func HostInit() Method {
	return Method{Op: OpHostInit}
}

// Copy returns a copy of size bytes from src to dst.
func Copy(dst, src uint64, size uint32) Method {
	return Method{Op: OpCopy, A: size, B: src, C: dst}
}

// Put encodes m into dst, which must hold RecordSize bytes.
func (m Method) Put(dst []byte) {
	_ = dst[RecordSize-1]
	binary.LittleEndian.PutUint32(dst[0:], uint32(m.Op))
	binary.LittleEndian.PutUint32(dst[4:], m.A)
	binary.LittleEndian.PutUint64(dst[8:], m.B)
	binary.LittleEndian.PutUint64(dst[16:], m.C)
}

// Buffer is a destination that hands out room for records.
type Buffer interface {
	Reserve(n int) ([]byte, error)
}

// Encode appends m to b.
func Encode(b Buffer, m Method) error {
	dst, err := b.Reserve(RecordSize)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Op, err)
	}
	m.Put(dst)
	return nil
}

// Decode decodes the record at the start of src.
func Decode(src []byte) (Method, error) {
	if len(src) < RecordSize {
		return Method{}, ErrTruncated
	}
	m := Method{
		Op: Op(binary.LittleEndian.Uint32(src[0:])),
		A:  binary.LittleEndian.Uint32(src[4:]),
		B:  binary.LittleEndian.Uint64(src[8:]),
		C:  binary.LittleEndian.Uint64(src[16:]),
	}
	if m.Op >= opCount {
		return m, fmt.Errorf("%w: %d", ErrUnknownOp, uint32(m.Op))
	}
	return m, nil
}

// Walk decodes every record of stream in order and calls fn for each.
// It stops at the first error from decoding or from fn.
func Walk(stream []byte, fn func(Method) error) error {
	for off := 0; off < len(stream); off += RecordSize {
		m, err := Decode(stream[off:])
		if err != nil {
			return fmt.Errorf("record at offset %d: %w", off, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
