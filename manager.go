package gpuchan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Manager owns the channel pools of one device and maps workload types to
// them.
//
// Manager is safe for concurrent use. Destroy must not race with any other
// method.
type Manager struct {
	platform   Platform
	conf       Conf
	pushbuffer Pushbuffer
	barriers   Barriers
	errs       *ErrorCell
	newBackoff func() Backoff

	selection   EngineSelection
	pools       []*Pool
	defaultPool [WorkloadCount]*Pool

	peerMu   sync.RWMutex
	peerPool map[PeerID]*Pool

	destroyed atomic.Bool
}

// NewManager creates the pushbuffer, selects copy engines and creates and
// initializes one pool per usable engine, plus the proxy pool when the
// platform asks for one.
//
// Every channel is initialized with a setup push that is waited for, so
// NewManager returns only once the device has executed work on every
// channel. On error everything created so far is destroyed.
func NewManager(p Platform, cfg Config, opts ...Option) (*Manager, error) {
	if err := validatePlatform(&p); err != nil {
		return nil, err
	}

	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		platform: p,
		conf:     resolveConfig(cfg, &p),
		barriers: p.Barriers,
		errs:     o.errs,
		peerPool: make(map[PeerID]*Pool),
	}
	if m.barriers == nil {
		m.barriers = &atomicBarriers{}
	}
	if m.errs == nil {
		m.errs = NewErrorCell()
	}
	m.newBackoff = o.newBackoff
	if m.newBackoff == nil {
		warnAfter := m.conf.SpinWarnTimeout
		m.newBackoff = func() Backoff { return NewSpinLoop(warnAfter) }
	}

	for _, c := range []any{p.RM, p.Semaphores, p.CE, p.Host, p.ECC} {
		propagateLogger(c)
	}

	pb, err := p.NewPushbuffer(m.conf.PushbufferLocation)
	if err != nil {
		return nil, fmt.Errorf("create pushbuffer on %s: %w", p.Name, err)
	}
	m.pushbuffer = pb
	propagateLogger(pb)

	if err := m.createPools(); err != nil {
		m.destroy()
		return nil, err
	}

	log := Logger()
	if log.Enabled(context.Background(), slog.LevelDebug) {
		for _, t := range selectionOrder {
			log.Debug("gpuchan: workload type mapped",
				"gpu", p.Name,
				"type", t,
				"ce", m.defaultPool[t].ceIndex,
				"proxy", m.defaultPool[t].proxy)
		}
	}
	log.Info("gpuchan: channel manager created",
		"gpu", p.Name,
		"pools", len(m.pools),
		"engine_mask", fmt.Sprintf("0x%x", m.selection.Mask),
		"gpfifo_entries", m.conf.NumGPFIFOEntries,
		"gpfifo_loc", m.conf.GPFIFOLocation,
		"gpput_loc", m.conf.GPPutLocation,
		"pushbuffer_loc", m.conf.PushbufferLocation)

	return m, nil
}

// validatePlatform checks that every required collaborator is present.
func validatePlatform(p *Platform) error {
	missing := ""
	switch {
	case p.RM == nil:
		missing = "RM"
	case p.Semaphores == nil:
		missing = "Semaphores"
	case p.NewPushbuffer == nil:
		missing = "NewPushbuffer"
	case p.CE == nil:
		missing = "CE"
	case p.Host == nil:
		missing = "Host"
	}
	if missing != "" {
		return fmt.Errorf("platform %q: missing %s: %w", p.Name, missing, ErrInvalidPlatform)
	}
	return nil
}

// createPools selects engines and creates the pools.
func (m *Manager) createPools() error {
	caps, err := m.platform.RM.QueryCopyEngineCaps()
	if err != nil {
		return fmt.Errorf("query copy engine caps on %s: %w", m.platform.Name, err)
	}

	sel, err := SelectEngines(caps)
	if err != nil {
		return fmt.Errorf("select copy engines on %s: %w", m.platform.Name, err)
	}
	m.selection = sel

	for ce := uint32(0); ce < MaxCopyEngines; ce++ {
		if sel.Mask&(1<<ce) == 0 {
			continue
		}
		pool, err := newPool(m, ce, false, m.conf.ChannelsPerPool)
		if err != nil {
			return err
		}
		m.pools = append(m.pools, pool)
	}

	for _, t := range selectionOrder {
		m.defaultPool[t] = m.pools[sel.PoolIndex(sel.Preferred[t])]
	}

	if m.platform.ProxyChannelPool {
		// Misc work is pinned to the single proxy channel, which runs on the
		// engine picked for Misc.
		pool, err := newPool(m, sel.Preferred[Misc], true, 1)
		if err != nil {
			return err
		}
		m.pools = append(m.pools, pool)
		m.defaultPool[Misc] = pool
	}
	return nil
}

// Conf returns the resolved configuration.
func (m *Manager) Conf() Conf { return m.conf }

// Platform returns the platform the manager was created with.
func (m *Manager) Platform() *Platform { return &m.platform }

// ErrorCell returns the fatal error latch polled by the manager.
func (m *Manager) ErrorCell() *ErrorCell { return m.errs }

// Selection returns the copy engine selection.
func (m *Manager) Selection() EngineSelection { return m.selection }

// Pools returns every pool, ordered by engine with the proxy pool last.
// The slice must not be modified.
func (m *Manager) Pools() []*Pool { return m.pools }

// Pool returns the default pool of workload type t.
func (m *Manager) Pool(t WorkloadType) *Pool {
	if !t.valid() {
		return nil
	}
	return m.defaultPool[t]
}

// Reserve reserves room for one push on a channel suited to t.
func (m *Manager) Reserve(t WorkloadType) (*Channel, error) {
	if m.destroyed.Load() {
		return nil, ErrManagerDestroyed
	}
	if !t.valid() {
		return nil, fmt.Errorf("reserve %s: %w", t, ErrNotSupported)
	}
	return m.defaultPool[t].Reserve()
}

// SetPeerEngine routes device-to-device work for peer to engine ce. The
// engine must be usable.
func (m *Manager) SetPeerEngine(peer PeerID, ce uint32) error {
	if m.destroyed.Load() {
		return ErrManagerDestroyed
	}
	if ce >= MaxCopyEngines || m.selection.Mask&(1<<ce) == 0 {
		return fmt.Errorf("peer %d: copy engine %d: %w", peer, ce, ErrNotSupported)
	}
	pool := m.pools[m.selection.PoolIndex(ce)]

	m.peerMu.Lock()
	m.peerPool[peer] = pool
	m.peerMu.Unlock()

	Logger().Info("gpuchan: peer copy engine set", "gpu", m.platform.Name, "peer", peer, "ce", ce)
	return nil
}

// ReserveForPeer reserves room for one push of device-to-device work with
// peer. Without a peer override the default DeviceToDevice pool is used.
func (m *Manager) ReserveForPeer(peer PeerID) (*Channel, error) {
	if m.destroyed.Load() {
		return nil, ErrManagerDestroyed
	}

	m.peerMu.RLock()
	pool, ok := m.peerPool[peer]
	m.peerMu.RUnlock()

	if !ok {
		pool = m.defaultPool[DeviceToDevice]
	}
	return pool.Reserve()
}

// Push reserves a channel for t and begins a push on it.
func (m *Manager) Push(t WorkloadType, description string, opts ...PushOption) (*Push, error) {
	c, err := m.Reserve(t)
	if err != nil {
		return nil, err
	}
	p, err := c.beginPush(description, 2, opts...)
	if err != nil {
		c.unreserve()
		return nil, err
	}
	return p, nil
}

// UpdateProgress reclaims completed work on every channel and returns the
// number of pending entries.
func (m *Manager) UpdateProgress() uint32 {
	var pending uint32
	for _, pool := range m.pools {
		pending += pool.UpdateProgress()
	}
	return pending
}

// CheckErrors returns the latched fatal error if there is one, and
// otherwise the first channel error of the manager.
func (m *Manager) CheckErrors() error {
	if err := m.errs.Err(); err != nil {
		return err
	}
	for _, pool := range m.pools {
		if err := pool.CheckErrors(); err != nil {
			return err
		}
	}
	return nil
}

// WaitAll polls until every channel is idle or an error is detected. Once
// idle it reports any error latched in the meantime.
func (m *Manager) WaitAll() error {
	for _, pool := range m.pools {
		for _, c := range pool.channels {
			if err := c.Wait(); err != nil {
				return err
			}
		}
	}
	return m.CheckErrors()
}

// Destroy destroys the pools in reverse creation order and then the
// pushbuffer. Channels are expected to be idle; see WaitAll.
func (m *Manager) Destroy() {
	if m.destroyed.Swap(true) {
		return
	}
	m.destroy()
	Logger().Info("gpuchan: channel manager destroyed", "gpu", m.platform.Name)
}

// destroy releases everything created so far.
func (m *Manager) destroy() {
	for i := len(m.pools) - 1; i >= 0; i-- {
		m.pools[i].destroy()
	}
	m.pools = nil
	m.defaultPool = [WorkloadCount]*Pool{}

	m.peerMu.Lock()
	clear(m.peerPool)
	m.peerMu.Unlock()

	if m.pushbuffer != nil {
		m.pushbuffer.Destroy()
		m.pushbuffer = nil
	}
}
