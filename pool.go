package gpuchan

import (
	"fmt"
	"sync"
)

// Pool is a set of channels bound to one copy engine. A single lock guards
// the ring state of every channel in the pool.
type Pool struct {
	manager *Manager
	mu      sync.Mutex

	ceIndex  uint32
	proxy    bool
	channels []*Channel
}

// Engine returns the copy engine index of the pool.
func (p *Pool) Engine() uint32 { return p.ceIndex }

// IsProxy reports whether the pool is the proxy pool.
func (p *Pool) IsProxy() bool { return p.proxy }

// Channels returns the channels of the pool. The slice must not be modified.
func (p *Pool) Channels() []*Channel { return p.channels }

// newPool creates a pool with n channels on engine ce and initializes them.
// On error every channel created so far is destroyed.
func newPool(m *Manager, ce uint32, proxy bool, n int) (*Pool, error) {
	pool := &Pool{
		manager: m,
		ceIndex: ce,
		proxy:   proxy,
	}

	for i := 0; i < n; i++ {
		c, err := newChannel(pool)
		if err != nil {
			pool.destroy()
			return nil, fmt.Errorf("create channel %d of pool CE %d: %w", i, ce, err)
		}
		pool.channels = append(pool.channels, c)

		if err := c.init(); err != nil {
			pool.destroy()
			return nil, err
		}
	}

	Logger().Debug("gpuchan: pool created", "ce", ce, "proxy", proxy, "channels", n)
	return pool, nil
}

// destroy destroys the channels in reverse creation order.
func (p *Pool) destroy() {
	for i := len(p.channels) - 1; i >= 0; i-- {
		p.channels[i].destroy()
	}
	p.channels = nil
}

// Reserve reserves room for one push on any channel of the pool.
//
// Channels are tried in order first. When all rings are full, completed
// work is reclaimed round-robin and the pool is polled until a channel frees
// up or a fatal error is detected.
func (p *Pool) Reserve() (*Channel, error) {
	for _, c := range p.channels {
		if c.tryClaim() {
			return c, nil
		}
	}

	m := p.manager
	spin := m.newBackoff()
	for {
		for _, c := range p.channels {
			c.UpdateProgress()
			if c.tryClaim() {
				return c, nil
			}
			if err := c.CheckErrors(); err != nil {
				return nil, err
			}
			if err := m.errs.Err(); err != nil {
				return nil, err
			}
			spin.Spin()
		}
	}
}

// UpdateProgress reclaims completed work on every channel and returns the
// total number of pending entries.
func (p *Pool) UpdateProgress() uint32 {
	var pending uint32
	for _, c := range p.channels {
		pending += c.UpdateProgress()
	}
	return pending
}

// CheckErrors returns the first channel error found in the pool.
func (p *Pool) CheckErrors() error {
	for _, c := range p.channels {
		if err := c.CheckErrors(); err != nil {
			return err
		}
	}
	return nil
}
