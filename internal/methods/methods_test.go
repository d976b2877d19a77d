// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package methods

import (
	"errors"
	"testing"
)

type sliceBuffer struct {
	data []byte
	cap  int
}

func (b *sliceBuffer) Reserve(n int) ([]byte, error) {
	if len(b.data)+n > b.cap {
		return nil, errors.New("full")
	}
	b.data = append(b.data, make([]byte, n)...)
	return b.data[len(b.data)-n:], nil
}

func TestEncodeWalk(t *testing.T) {
	buf := &sliceBuffer{cap: 1024}
	want := []Method{
		CEInit(3),
		HostInit(),
		Copy(0x2000, 0x1000, 256),
		SemaphoreAcquire(0x40, 7),
		SemaphoreRelease(0xdead_bee0, 0xffff_fffe),
	}
	for _, m := range want {
		if err := Encode(buf, m); err != nil {
			t.Fatalf("Encode(%v) error = %v", m.Op, err)
		}
	}
	if len(buf.data) != len(want)*RecordSize {
		t.Fatalf("stream length = %d, want %d", len(buf.data), len(want)*RecordSize)
	}

	var got []Method
	err := Walk(buf.data, func(m Method) error {
		got = append(got, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("method %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEncodeFull(t *testing.T) {
	buf := &sliceBuffer{cap: RecordSize - 1}
	if err := Encode(buf, HostInit()); err == nil {
		t.Error("Encode() into a full buffer succeeded")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(make([]byte, RecordSize-1)); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode(short) error = %v, want ErrTruncated", err)
	}

	rec := make([]byte, RecordSize)
	Method{Op: opCount}.Put(rec)
	if _, err := Decode(rec); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("Decode(bad op) error = %v, want ErrUnknownOp", err)
	}

	stream := make([]byte, RecordSize+4)
	HostInit().Put(stream)
	if err := Walk(stream, func(Method) error { return nil }); !errors.Is(err, ErrTruncated) {
		t.Errorf("Walk(trailing bytes) error = %v, want ErrTruncated", err)
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	stream := make([]byte, 3*RecordSize)
	for i := range 3 {
		HostInit().Put(stream[i*RecordSize:])
	}
	stop := errors.New("stop")
	n := 0
	err := Walk(stream, func(Method) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Errorf("Walk() = %v after %d records, want stop after 2", err, n)
	}
}

func TestPackEntry(t *testing.T) {
	tests := []struct {
		name    string
		va      uint64
		size    uint32
		wantErr bool
	}{
		{"small", 0x1000, 48, false},
		{"high address", 0xff_ffff_fff0, 4096, false},
		{"max length", 0x100, MaxEntryLength, false},
		{"unaligned address", 0x1002, 48, true},
		{"unaligned size", 0x1000, 50, true},
		{"address too wide", 1 << 40, 48, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := PackEntry(tt.va, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrBadEntry) {
					t.Errorf("PackEntry() error = %v, want ErrBadEntry", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PackEntry() error = %v", err)
			}
			va, size := UnpackEntry(e)
			if va != tt.va || size != tt.size {
				t.Errorf("UnpackEntry() = (0x%x, %d), want (0x%x, %d)", va, size, tt.va, tt.size)
			}
		})
	}
}

func TestOpString(t *testing.T) {
	if got := OpSemaphoreRelease.String(); got != "SemaphoreRelease" {
		t.Errorf("String() = %q", got)
	}
	if got := Op(99).String(); got != "Op(99)" {
		t.Errorf("String() = %q", got)
	}
}
