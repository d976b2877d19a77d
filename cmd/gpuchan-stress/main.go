// Command gpuchan-stress drives a device with concurrent producers and
// reports the channel state.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gpuchan"
	"github.com/gogpu/gpuchan/backend"
	_ "github.com/gogpu/gpuchan/backend/native" // Register native backend
	_ "github.com/gogpu/gpuchan/backend/sim"    // Register sim backend
	"github.com/gogpu/gpuchan/internal/methods"
	"github.com/gogpu/gpuchan/internal/workers"
)

func main() {
	var (
		backendName = flag.String("backend", "", "backend to open (default: best available)")
		producers   = flag.Int("producers", 16, "number of producers")
		pushes      = flag.Int("pushes", 1000, "pushes per producer")
		copies      = flag.Int("copies", 4, "copies encoded per push")
		workerCount = flag.Int("workers", 0, "worker goroutines (0: GOMAXPROCS)")
		gpfifo      = flag.Uint("gpfifo", 0, "GPFIFO entries per channel (0: default)")
		channels    = flag.Int("channels", 0, "channels per pool (0: default)")
		track       = flag.Bool("track-acquires", false, "record acquired values per push")
		dump        = flag.String("dump", "", "write a MessagePack snapshot to this file")
		pending     = flag.Bool("pending", false, "print pending pushes at exit")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	gpuchan.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	dev, err := openDevice(*backendName)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer dev.Close()

	m, err := gpuchan.NewManager(dev.Platform(), gpuchan.Config{
		NumGPFIFOEntries: uint32(*gpfifo), //nolint:gosec // G115: clamped by the manager
		ChannelsPerPool:  *channels,
		TrackAcquires:    *track,
	})
	if err != nil {
		log.Fatalf("Failed to create channel manager: %v", err)
	}
	defer m.Destroy()

	pool := workers.New(*workerCount)
	defer pool.Close()

	tasks := make([]workers.Task, *producers)
	for i := range tasks {
		typ := gpuchan.WorkloadType(i % int(gpuchan.WorkloadCount))
		tasks[i] = producer(m, typ, *pushes, *copies)
	}

	start := time.Now()
	runErr := pool.Run(tasks)
	if runErr == nil {
		runErr = m.WaitAll()
	}
	elapsed := time.Since(start)

	if *pending {
		if err := m.PrintPendingPushes(os.Stdout); err != nil {
			log.Printf("Failed to print pending pushes: %v", err)
		}
	}
	if *dump != "" {
		if err := writeSnapshot(m, *dump); err != nil {
			log.Printf("Failed to write snapshot: %v", err)
		}
	}

	if runErr != nil {
		log.Fatalf("Stress run failed after %v: %v", elapsed, runErr)
	}

	total := *producers * *pushes
	log.Printf("%s: %d pushes on %d pools in %v (%.0f pushes/s)\n",
		dev.Name(), total, len(m.Pools()), elapsed, float64(total)/elapsed.Seconds())
}

// openDevice opens the named backend, or the best available one.
func openDevice(name string) (backend.Device, error) {
	if name != "" {
		return backend.Open(name)
	}
	return backend.Default()
}

// producer returns a task pushing n pushes of copies copies each. Every
// push waits for the previous one of the same producer.
func producer(m *gpuchan.Manager, typ gpuchan.WorkloadType, n, copies int) workers.Task {
	return func() error {
		var prev *gpuchan.Push
		for i := 0; i < n; i++ {
			p, err := m.Push(typ, fmt.Sprintf("%s stress %d", typ, i))
			if err != nil {
				return err
			}
			if err := encode(p, prev, copies); err != nil {
				p.Abandon()
				return err
			}
			if err := p.End(); err != nil {
				return err
			}
			prev = p
		}
		if prev == nil {
			return nil
		}
		return prev.Wait()
	}
}

func encode(p, prev *gpuchan.Push, copies int) error {
	if prev != nil {
		src := prev.Channel()
		acq := methods.SemaphoreAcquire(src.SemaphoreGPUVA(p.Channel().IsProxy()), uint32(prev.TrackingValue())) //nolint:gosec // G115: low 32 bits
		if err := methods.Encode(p, acq); err != nil {
			return err
		}
		p.RecordAcquire(src, prev.TrackingValue())
	}
	for i := 0; i < copies; i++ {
		if err := methods.Encode(p, methods.Copy(0x1000, 0x2000, 4096)); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshot(m *gpuchan.Manager, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Snapshot().Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
