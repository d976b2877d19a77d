package workers

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

func TestPool_Create(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestPool_CreateZeroWorkers(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if want := runtime.GOMAXPROCS(0); pool.Workers() != want {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), want)
	}
}

func TestPool_RunAll(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	var counter atomic.Int64
	tasks := make([]Task, 100)
	for i := range tasks {
		tasks[i] = func() error {
			counter.Add(1)
			return nil
		}
	}

	if err := pool.Run(tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestPool_RunReturnsError(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	errBoom := errors.New("boom")
	var ran atomic.Int64
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func() error {
			ran.Add(1)
			if i == 3 {
				return errBoom
			}
			return nil
		}
	}

	if err := pool.Run(tasks); !errors.Is(err, errBoom) {
		t.Errorf("Run() error = %v, want %v", err, errBoom)
	}
	if ran.Load() != 10 {
		t.Errorf("ran = %d, want every task to run", ran.Load())
	}
}

func TestPool_RunAfterClose(t *testing.T) {
	pool := New(2)
	pool.Close()
	pool.Close()

	var ran atomic.Bool
	err := pool.Run([]Task{func() error { ran.Store(true); return nil }})
	if err != nil || ran.Load() {
		t.Errorf("Run() on closed pool: err = %v, ran = %v", err, ran.Load())
	}
	if pool.IsRunning() {
		t.Error("closed pool reports running")
	}
}
