// Package network turns the host's raw connectivity signal into a
// debounced online/offline state. Mobile radios flap; acting on every
// transition would thrash the prefetcher, so changes arriving hard on
// the heels of the previous one are dropped and an accepted change only
// applies once the signal has held still for a settle period.
package network

import (
	"sync"
	"time"
)

const (
	// DefaultIgnoreWithin drops raw changes this close to the previous
	// honored change.
	DefaultIgnoreWithin = 500 * time.Millisecond

	// DefaultSettleAfter is how long a change must hold before it is
	// applied and listeners fire.
	DefaultSettleAfter = 300 * time.Millisecond
)

// Monitor consumes raw connectivity transitions pushed by the host and
// exposes a debounced state. The monitor starts online; a host that
// knows better pushes the real state at startup.
type Monitor struct {
	mu           sync.Mutex
	ignoreWithin time.Duration
	settleAfter  time.Duration

	online     bool
	lastChange time.Time

	pending       bool
	pendingTarget bool
	pendingGen    uint64
	timer         *time.Timer

	listeners  map[uint64]func(bool)
	listenerID uint64

	closed bool
}

// NewMonitor returns a monitor with the given debounce windows.
// Durations <= 0 fall back to the defaults.
func NewMonitor(ignoreWithin, settleAfter time.Duration) *Monitor {
	if ignoreWithin <= 0 {
		ignoreWithin = DefaultIgnoreWithin
	}
	if settleAfter <= 0 {
		settleAfter = DefaultSettleAfter
	}
	return &Monitor{
		ignoreWithin: ignoreWithin,
		settleAfter:  settleAfter,
		online:       true,
		listeners:    make(map[uint64]func(bool)),
	}
}

// Accept feeds one raw connectivity reading into the monitor. Readings
// that do not change the effective target are ignored. A change within
// ignoreWithin of the previous honored change is dropped outright and
// leaves no trace, so a flapping radio cannot starve the settle timer.
func (m *Monitor) Accept(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	target := m.online
	if m.pending {
		target = m.pendingTarget
	}
	if connected == target {
		return
	}

	now := time.Now()
	if !m.lastChange.IsZero() && now.Sub(m.lastChange) < m.ignoreWithin {
		return
	}
	m.lastChange = now

	// Cancel-and-restart: one pending timer at a time.
	if m.timer != nil {
		m.timer.Stop()
	}
	m.pending = true
	m.pendingTarget = connected
	m.pendingGen++
	gen := m.pendingGen
	m.timer = time.AfterFunc(m.settleAfter, func() { m.settle(gen) })
}

// settle applies a pending change once its timer fires. A stale
// generation means the timer was superseded after firing; it does
// nothing.
func (m *Monitor) settle(gen uint64) {
	m.mu.Lock()
	if m.closed || !m.pending || gen != m.pendingGen {
		m.mu.Unlock()
		return
	}
	m.pending = false
	changed := m.online != m.pendingTarget
	m.online = m.pendingTarget

	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	state := m.online
	m.mu.Unlock()

	// Listeners run outside the lock so they may call back into the
	// monitor.
	for _, fn := range fns {
		fn(state)
	}
}

// Online reports the current debounced state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// AddListener registers fn to run on every applied state change and
// returns a function that removes it. Listeners are called from the
// settle timer's goroutine.
func (m *Monitor) AddListener(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listenerID++
	id := m.listenerID
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Close cancels any pending change and drops all listeners. Further
// Accept calls are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.pending = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.listeners = make(map[uint64]func(bool))
}
