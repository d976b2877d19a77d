package gpuchan

import (
	"errors"
	"sync"
	"testing"
)

func TestErrorCellFirstWins(t *testing.T) {
	var c ErrorCell
	if c.Err() != nil {
		t.Fatalf("zero ErrorCell has error %v", c.Err())
	}

	first := errors.New("first")
	if c.SetFatal(nil) {
		t.Error("SetFatal(nil) latched")
	}
	if !c.SetFatal(first) {
		t.Error("SetFatal(first) did not latch")
	}
	if c.SetFatal(errors.New("second")) {
		t.Error("SetFatal(second) latched over first")
	}
	if c.Err() != first {
		t.Errorf("Err() = %v, want %v", c.Err(), first)
	}
}

func TestErrorCellConcurrent(t *testing.T) {
	c := NewErrorCell()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetFatal(ErrRCError) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("%d goroutines latched the cell, want 1", winners)
	}
	if !errors.Is(c.Err(), ErrRCError) {
		t.Errorf("Err() = %v, want ErrRCError", c.Err())
	}
}
