// Package hotplug debounces connector interrupts. An interrupt only arms a
// timer; the connection status is read again when the timer fires and
// listeners hear about it only if it changed.
package hotplug

import (
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
)

// DefaultDebounce is how long the line must stay quiet before it is sampled.
const DefaultDebounce = time.Second

// State of the debounce state machine.
type State int

// States.
const (
	Idle State = iota
	PendingDebounce
)

func (s State) String() string {
	if s == PendingDebounce {
		return "pending"
	}
	return "idle"
}

// Options configures a Monitor.
type Options struct {
	Pipe    int
	Backend string
	// Status reads the live connection state from hardware.
	Status   func() bool
	Debounce time.Duration
	// Notify is called from the timer goroutine after a confirmed change.
	Notify func(pipe int, connected bool)
	Bus    *events.Bus
	Logger *slog.Logger
}

// Monitor tracks one connector.
type Monitor struct {
	pipe    int
	backend string
	status  func() bool
	notify  func(int, bool)
	bus     *events.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	debounce  time.Duration
	connected bool
	timer     *time.Timer
	gen       uint64
	stopped   bool
}

// New creates a monitor and samples the initial status without notifying.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("hotplug")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	m := &Monitor{
		pipe:     opts.Pipe,
		backend:  opts.Backend,
		status:   opts.Status,
		notify:   opts.Notify,
		bus:      opts.Bus,
		logger:   logger.With("pipe", opts.Pipe),
		debounce: opts.Debounce,
	}
	if m.status != nil {
		m.connected = m.status()
	}
	return m
}

// Interrupt handles a hotplug interrupt. Interrupts without plug or unplug
// bits are ignored. Each one restarts the debounce window.
func (m *Monitor) Interrupt(plug, unplug bool) {
	if !plug && !unplug {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.debounce, func() { m.fire(gen) })
	m.logger.Debug("Hotplug interrupt", "plug", plug, "unplug", unplug, "debounce", m.debounce)
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	// A newer interrupt re-armed the timer after this one was already running.
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	m.timer = nil

	live := m.connected
	if m.status != nil {
		live = m.status()
	}
	if live == m.connected {
		m.mu.Unlock()
		m.logger.Debug("Hotplug status unchanged", "connected", live)
		return
	}
	m.connected = live
	notify := m.notify
	m.mu.Unlock()

	m.logger.Info("Connector status changed", "backend", m.backend, "connected", live)
	metrics.IncHotplug(m.pipe, live)
	m.bus.Publish(events.HotplugEvent{
		Pipe:      m.pipe,
		Backend:   m.backend,
		Connected: live,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if notify != nil {
		notify(m.pipe, live)
	}
}

// Connected returns the last confirmed connection state.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// State reports whether a debounce timer is armed.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		return PendingDebounce
	}
	return Idle
}

// Debounce returns the current debounce interval.
func (m *Monitor) Debounce() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debounce
}

// SetDebounce changes the interval used by later interrupts.
func (m *Monitor) SetDebounce(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	m.mu.Lock()
	m.debounce = d
	m.mu.Unlock()
}

// Stop cancels a pending timer. Later interrupts are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
