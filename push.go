package gpuchan

import (
	"fmt"
	"runtime"
)

// Push is one submission being encoded on a reserved channel.
//
// A Push follows a two-phase protocol: BeginPush takes a pushbuffer chunk
// and a push slot, the caller encodes commands without holding any lock,
// and End publishes the work to hardware under the pool lock.
//
// A Push is NOT safe for concurrent use.
type Push struct {
	channel *Channel
	chunk   Chunk
	size    uint32
	slot    int
	ended   bool

	trackingValue uint64
}

// PushOption configures the metadata of a push.
type PushOption func(*PushInfo)

// WithOnComplete registers fn to run once the push's ring entry has been
// reclaimed as completed. fn runs on the goroutine doing the reclamation,
// without any engine lock held.
func WithOnComplete(fn func()) PushOption {
	return func(info *PushInfo) {
		info.OnComplete = fn
	}
}

// BeginPush starts a push on the channel. The caller must already hold a
// reservation on the channel, from Pool.Reserve, Manager.Reserve or
// Channel.Reserve; the reservation is consumed by End. Each reservation
// backs exactly one push.
//
// Pushbuffer backpressure is returned unchanged (errors.Is ErrPushbufferFull)
// and leaves the reservation in place.
func (c *Channel) BeginPush(description string, opts ...PushOption) (*Push, error) {
	return c.beginPush(description, 2, opts...)
}

// beginPush implements BeginPush. skip is the number of stack frames
// between the caller of interest and runtime.Caller.
func (c *Channel) beginPush(description string, skip int, opts ...PushOption) (*Push, error) {
	pb := c.manager().pushbuffer

	chunk, err := pb.BeginPush()
	if err != nil {
		return nil, err
	}

	info := PushInfo{Description: description}
	if pc, file, line, ok := runtime.Caller(skip); ok {
		info.File = file
		info.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			info.Function = fn.Name()
		}
	}
	for _, opt := range opts {
		opt(&info)
	}

	c.pool.mu.Lock()
	if c.begunPushes >= c.currentPushes {
		c.pool.mu.Unlock()
		pb.EndPush(chunk, 0)
		pb.MarkCompleted(chunk, 0)
		return nil, fmt.Errorf("begin push on %s: %w", c.name, ErrNotReserved)
	}
	slot, ok := c.slots.alloc()
	if ok {
		s := c.slots.get(slot)
		acq := s.Acquires
		*s = info
		s.Acquires = acq
		c.begunPushes++
	}
	c.pool.mu.Unlock()

	if !ok {
		pb.EndPush(chunk, 0)
		pb.MarkCompleted(chunk, 0)
		return nil, fmt.Errorf("begin push on %s: no free push slot: %w", c.name, ErrNotReserved)
	}

	return &Push{
		channel: c,
		chunk:   chunk,
		slot:    slot,
	}, nil
}

// Channel returns the channel the push is encoded on.
func (p *Push) Channel() *Channel { return p.channel }

// Size returns the number of bytes encoded so far.
func (p *Push) Size() uint32 { return p.size }

// Bytes returns the bytes encoded so far. The slice aliases the pushbuffer.
func (p *Push) Bytes() []byte { return p.chunk.Data[:p.size] }

// TrackingValue returns the channel tracking value assigned by End, or zero
// before End.
func (p *Push) TrackingValue() uint64 { return p.trackingValue }

// Reserve returns the next n bytes of the push for the caller to fill in.
// Encoders use it to write methods in place.
func (p *Push) Reserve(n int) ([]byte, error) {
	if p.ended {
		return nil, ErrPushEnded
	}
	end := int(p.size) + n
	if n < 0 || end > len(p.chunk.Data) {
		return nil, fmt.Errorf("push %q: %w", p.info().Description, ErrPushTooLarge)
	}
	b := p.chunk.Data[p.size:end]
	p.size = uint32(end) //nolint:gosec // G115: bounded by chunk size
	return b, nil
}

// Write appends b to the push. It implements io.Writer.
func (p *Push) Write(b []byte) (int, error) {
	dst, err := p.Reserve(len(b))
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

// info returns the push's slot. The slot is owned by the push until End.
func (p *Push) info() *PushInfo {
	return p.channel.slots.get(p.slot)
}

// RecordAcquire records that the push waits for value on channel src.
// It is a no-op unless Config.TrackAcquires is set.
func (p *Push) RecordAcquire(src *Channel, value uint64) {
	m := p.channel.manager()
	if !m.conf.TrackAcquires || p.ended {
		return
	}
	info := p.info()
	if len(info.Acquires) < MaxAcquireEntries {
		info.Acquires = append(info.Acquires, AcquireValue{
			GPU:       src.manager().platform.ID,
			RunlistID: src.hw.RunlistID(),
			ChannelID: src.hw.ChannelID(),
			Value:     value,
		})
	}
	info.NumAcquires++
}

// End publishes the push to hardware and returns the channel reservation.
//
// Under the pool lock End assigns the next tracking value, encodes its
// release, writes the ring descriptor, orders every store before the
// doorbell and rings it. If the encoded push exceeds MaxPushSize nothing
// is published and ErrPushTooLarge is returned; the reservation and the
// push slot are released.
func (p *Push) End() error {
	if p.ended {
		return ErrPushEnded
	}
	c := p.channel
	m := c.manager()
	plat := &m.platform
	pb := m.pushbuffer

	c.pool.mu.Lock()

	value := c.tracking.nextValue()
	err := plat.CE.SemaphoreRelease(p, c.tracking.sem.GPUVA(c.pool.proxy), value)
	if err == nil && p.size > MaxPushSize {
		err = ErrPushTooLarge
	}
	if err != nil {
		c.tracking.rollback(value)
		p.releaseLocked()
		c.pool.mu.Unlock()
		p.releaseChunk()
		return fmt.Errorf("end push on %s: %d bytes: %w", c.name, p.size, err)
	}

	cpuPut := c.cpuPut
	newCPUPut := (cpuPut + 1) % c.numEntries

	entry := &c.entries[cpuPut]
	entry.trackingValue = value
	entry.chunk = p.chunk
	entry.pushbufferSize = p.size
	entry.slot = p.slot
	pushbufferVA := pb.GPUVA(p.chunk)

	c.currentPushes--
	c.begunPushes--

	plat.Host.SetGPFIFOEntry(c.hw, cpuPut, pushbufferVA, p.size)

	// Every pushbuffer and GPFIFO store must be visible before the GPPUT
	// write: hardware may fetch the new entry as soon as it sees GPPUT.
	m.barriers.Full()

	c.cpuPut = newCPUPut
	plat.Host.WriteGPPut(c.hw, newCPUPut)

	// The entry may be reclaimed the moment the lock is dropped, so the
	// pushbuffer must know about the push first.
	pb.EndPush(p.chunk, p.size)

	c.pool.mu.Unlock()

	if m.conf.PostSubmitBarrier {
		m.barriers.Write()
	}

	p.ended = true
	p.trackingValue = value
	return nil
}

// Abandon drops the push without submitting it. The chunk, the push slot
// and the channel reservation are released.
func (p *Push) Abandon() {
	if p.ended {
		return
	}
	p.channel.pool.mu.Lock()
	p.releaseLocked()
	p.channel.pool.mu.Unlock()
	p.releaseChunk()
}

// releaseLocked returns the slot and the reservation. The caller must hold
// the pool lock.
func (p *Push) releaseLocked() {
	c := p.channel
	c.currentPushes--
	c.begunPushes--
	c.slots.release(p.slot)
	p.ended = true
}

// releaseChunk gives the unsubmitted chunk back to the pushbuffer.
func (p *Push) releaseChunk() {
	pb := p.channel.manager().pushbuffer
	pb.EndPush(p.chunk, 0)
	pb.MarkCompleted(p.chunk, 0)
}

// EndAndWait ends the push and polls until the GPU has completed it.
func (p *Push) EndAndWait() error {
	if err := p.End(); err != nil {
		return err
	}
	return p.Wait()
}

// Wait polls until the ended push has completed.
func (p *Push) Wait() error {
	if !p.ended {
		return fmt.Errorf("wait on push %q: push not ended", p.info().Description)
	}
	return p.channel.WaitForValue(p.trackingValue)
}
