package gpuchan

import (
	"fmt"
)

// defaultMaxToComplete bounds the entries reclaimed by one UpdateProgress
// call, spreading the cost over callers and keeping the pool lock short.
const defaultMaxToComplete = 8

// updateMode selects which ring entries updateProgress may reclaim.
type updateMode int

const (
	// updateCompleted reclaims only entries the GPU has completed.
	updateCompleted updateMode = iota
	// updateForceAll reclaims everything regardless of completion. Used only
	// when destroying a channel.
	updateForceAll
)

// gpfifoEntry is the CPU-side record of one ring entry.
type gpfifoEntry struct {
	trackingValue  uint64
	chunk          Chunk
	pushbufferSize uint32
	slot           int
}

// Channel is one hardware command ring and its bookkeeping.
//
// Ring indices, the reserved push count and the push slots are guarded by
// the owning pool's lock.
type Channel struct {
	pool *Pool
	name string
	hw   HWChannel

	tracking *TrackingSemaphore

	numEntries uint32
	entries    []gpfifoEntry
	slots      *pushSlotTable

	cpuPut        uint32
	gpuGet        uint32
	currentPushes uint32
	// begunPushes counts reservations already bound to a Push.
	begunPushes uint32
}

// Name returns the diagnostic name of the channel.
func (c *Channel) Name() string { return c.name }

// Pool returns the pool owning the channel.
func (c *Channel) Pool() *Pool { return c.pool }

// Tracking returns the channel's tracking semaphore.
func (c *Channel) Tracking() *TrackingSemaphore { return c.tracking }

// NumEntries returns the ring capacity.
func (c *Channel) NumEntries() uint32 { return c.numEntries }

// HW returns the hardware channel handle.
func (c *Channel) HW() HWChannel { return c.hw }

// IsProxy reports whether the channel belongs to a proxy pool.
func (c *Channel) IsProxy() bool { return c.pool.proxy }

// SemaphoreGPUVA returns the address of the channel's tracking semaphore
// as seen from a proxy or a normal channel.
func (c *Channel) SemaphoreGPUVA(proxy bool) uint64 { return c.tracking.sem.GPUVA(proxy) }

// manager returns the manager owning the channel.
func (c *Channel) manager() *Manager { return c.pool.manager }

// isAvailableLocked reports whether one more push fits in the ring. One
// entry always stays empty so that a full ring is distinguishable from an
// empty one. The caller must hold the pool lock.
func (c *Channel) isAvailableLocked() bool {
	nextPut := (c.cpuPut + c.currentPushes + 1) % c.numEntries
	return nextPut != c.gpuGet
}

// pendingEntries returns the number of ring entries not yet reclaimed.
func pendingEntries(cpuPut, gpuGet, numEntries uint32) uint32 {
	if cpuPut >= gpuGet {
		return cpuPut - gpuGet
	}
	return numEntries - gpuGet + cpuPut
}

// updateProgress reclaims up to maxToComplete ring entries and returns the
// number of entries still pending.
func (c *Channel) updateProgress(maxToComplete uint32, mode updateMode) uint32 {
	completed := c.tracking.UpdateCompletedValue()
	pb := c.manager().pushbuffer

	var callbacks []func()

	c.pool.mu.Lock()

	cpuPut := c.cpuPut
	gpuGet := c.gpuGet
	var count uint32

	for gpuGet != cpuPut && count < maxToComplete {
		entry := &c.entries[gpuGet]

		// Entries complete in ring order, so the first unfinished one ends
		// the walk.
		if mode == updateCompleted && entry.trackingValue > completed {
			break
		}

		pb.MarkCompleted(entry.chunk, entry.pushbufferSize)
		if mode == updateCompleted {
			if cb := c.slots.get(entry.slot).OnComplete; cb != nil {
				callbacks = append(callbacks, cb)
			}
		}
		c.slots.release(entry.slot)
		entry.chunk = Chunk{}

		gpuGet = (gpuGet + 1) % c.numEntries
		count++
	}

	c.gpuGet = gpuGet

	c.pool.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}

	return pendingEntries(cpuPut, gpuGet, c.numEntries)
}

// UpdateProgress reclaims a bounded number of completed ring entries and
// returns the number of entries still pending.
func (c *Channel) UpdateProgress() uint32 {
	return c.updateProgress(defaultMaxToComplete, updateCompleted)
}

// UpdateProgressAll reclaims every completed ring entry and returns the
// number of entries still pending. It holds the pool lock longer than
// UpdateProgress and is meant for exceptional paths.
func (c *Channel) UpdateProgressAll() uint32 {
	return c.updateProgress(c.numEntries, updateCompleted)
}

// tryClaim reserves room for one push if the ring has space.
func (c *Channel) tryClaim() bool {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	if !c.isAvailableLocked() {
		return false
	}
	c.currentPushes++
	return true
}

// Reserve reserves room for one push on this specific channel, polling
// until the ring has space or an error is detected.
func (c *Channel) Reserve() error {
	if c.tryClaim() {
		return nil
	}

	m := c.manager()
	c.UpdateProgress()

	spin := m.newBackoff()
	for !c.tryClaim() {
		spin.Spin()
		if err := c.CheckErrors(); err != nil {
			return err
		}
		if err := m.errs.Err(); err != nil {
			return err
		}
		c.UpdateProgress()
	}
	return nil
}

// unreserve drops a reservation that will not be followed by a push.
func (c *Channel) unreserve() {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	if c.currentPushes == c.begunPushes {
		panic("gpuchan: unreserve without reservation")
	}
	c.currentPushes--
}

// IsValueCompleted reports whether the tracking value has completed.
func (c *Channel) IsValueCompleted(value uint64) bool {
	return c.tracking.IsValueCompleted(value)
}

// UpdateCompletedValue refreshes and returns the completed tracking value.
func (c *Channel) UpdateCompletedValue() uint64 {
	return c.tracking.UpdateCompletedValue()
}

// WaitForValue polls until value has completed on the channel or an error
// is detected. Completed entries are reclaimed before it returns.
func (c *Channel) WaitForValue(value uint64) error {
	if !c.tracking.IsValueCompleted(value) {
		m := c.manager()
		spin := m.newBackoff()
		for !c.tracking.IsValueCompleted(value) {
			spin.Spin()
			if err := c.CheckErrors(); err != nil {
				return err
			}
			if err := m.errs.Err(); err != nil {
				return err
			}
		}
	}
	c.UpdateProgress()
	return nil
}

// Wait polls until every entry of the channel has been reclaimed or an
// error is detected.
func (c *Channel) Wait() error {
	if c.UpdateProgressAll() == 0 {
		return c.CheckErrors()
	}

	m := c.manager()
	spin := m.newBackoff()
	for c.UpdateProgressAll() > 0 {
		spin.Spin()
		if err := c.CheckErrors(); err != nil {
			return err
		}
		if err := m.errs.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Status reads the channel's error notifier. It returns nil, ErrECCError or
// ErrRCError.
func (c *Channel) Status() error {
	if c.hw.ErrorNotifier() == 0 {
		return nil
	}

	// A channel error is reported as ECC when the ECC notifier is pending
	// too. The two notifiers are not ordered, so this is best effort.
	if ecc := c.manager().platform.ECC; ecc != nil && ecc.Enabled() && ecc.Pending() {
		return ErrECCError
	}
	return ErrRCError
}

// firstPendingEntry reclaims what it can and returns a copy of the oldest
// pending entry's push metadata, or nil when the ring is empty. The entry
// itself may be reused right after this returns.
func (c *Channel) firstPendingEntry() *PushInfo {
	if c.UpdateProgressAll() == 0 {
		return nil
	}

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	if c.gpuGet == c.cpuPut {
		return nil
	}
	info := *c.slots.get(c.entries[c.gpuGet].slot)
	info.OnComplete = nil
	info.Acquires = append([]AcquireValue(nil), info.Acquires...)
	return &info
}

// CheckErrors returns a *ChannelError when the channel hit a fault. The
// error is logged together with the push most likely at fault, and latched
// in the manager's ErrorCell.
func (c *Channel) CheckErrors() error {
	status := c.Status()
	if status == nil {
		return nil
	}

	m := c.manager()
	log := Logger()
	log.Error("gpuchan: detected a channel error",
		"channel", c.name,
		"gpu", m.platform.Name,
		"status", status)

	chErr := &ChannelError{Channel: c.name, Err: status}
	if info := c.firstPendingEntry(); info != nil {
		log.Error("gpuchan: channel error likely caused by push",
			"description", info.Description,
			"file", info.File,
			"line", info.Line,
			"function", info.Function)
		chErr.Push = info
	}

	m.errs.SetFatal(chErr)
	return chErr
}

// destroy drains the channel and releases its hardware resources.
func (c *Channel) destroy() {
	m := c.manager()

	if c.tracking.QueuedValue() > 0 {
		// Channels are idled before destruction unless an error was hit.
		if m.errs.Err() == nil && c.Status() == nil && !c.tracking.IsCompleted() {
			Logger().Warn("gpuchan: destroying a channel with pending work",
				"channel", c.name,
				"queued", c.tracking.QueuedValue(),
				"completed", c.tracking.CompletedValue())
		}

		// The pushbuffer outlives the channel; give back every chunk.
		c.updateProgress(c.numEntries, updateForceAll)
	}

	if c.hw != nil {
		m.platform.RM.DestroyChannel(c.hw)
		c.hw = nil
	}
	if c.tracking != nil {
		m.platform.Semaphores.FreeSemaphore(c.tracking.sem)
	}

	Logger().Debug("gpuchan: channel destroyed", "channel", c.name)
}

// newChannel allocates a channel in pool. On error every resource taken so
// far is released.
func newChannel(pool *Pool) (*Channel, error) {
	m := pool.manager
	n := m.conf.NumGPFIFOEntries

	sem, err := m.platform.Semaphores.AllocSemaphore()
	if err != nil {
		return nil, fmt.Errorf("alloc tracking semaphore on %s: %w", m.platform.Name, err)
	}

	c := &Channel{
		pool:       pool,
		tracking:   newTrackingSemaphore(sem),
		numEntries: n,
	}

	hw, err := m.platform.RM.AllocateChannel(ChannelAllocParams{
		NumGPFIFOEntries: n,
		GPFIFOLocation:   m.conf.GPFIFOLocation,
		GPPutLocation:    m.conf.GPPutLocation,
		EngineIndex:      pool.ceIndex,
		Proxy:            pool.proxy,
	})
	if err != nil {
		m.platform.Semaphores.FreeSemaphore(sem)
		return nil, fmt.Errorf("allocate channel on %s: %w", m.platform.Name, err)
	}
	c.hw = hw

	c.name = fmt.Sprintf("ID %d:%d (0x%x:0x%x) CE %d",
		hw.RunlistID(), hw.ChannelID(), hw.RunlistID(), hw.ChannelID(), pool.ceIndex)

	c.entries = make([]gpfifoEntry, n)
	c.slots = newPushSlotTable(int(n))
	if m.conf.TrackAcquires {
		for i := range c.slots.slots {
			c.slots.slots[i].Acquires = make([]AcquireValue, 0, MaxAcquireEntries)
		}
	}

	Logger().Debug("gpuchan: channel created", "channel", c.name, "entries", n)
	return c, nil
}

// init submits the engine and host setup push and waits for it.
func (c *Channel) init() error {
	if err := c.Reserve(); err != nil {
		return err
	}
	p, err := c.beginPush("Init channel", 2)
	if err != nil {
		c.unreserve()
		return fmt.Errorf("begin push on channel %s: %w", c.name, err)
	}

	plat := c.manager().platform
	if err := plat.CE.Init(p); err != nil {
		p.Abandon()
		return fmt.Errorf("channel %s init: %w", c.name, err)
	}
	if err := plat.Host.Init(p); err != nil {
		p.Abandon()
		return fmt.Errorf("channel %s init: %w", c.name, err)
	}

	if err := p.EndAndWait(); err != nil {
		return fmt.Errorf("channel %s init: %w", c.name, err)
	}
	return nil
}
