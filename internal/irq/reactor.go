// Package irq moves interrupt work out of the code that observes the
// interrupt. Sources raise small events into a bounded queue and a single
// goroutine runs the registered handlers in order.
package irq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
)

// Interrupt sources.
const (
	SourceVblank  = "vblank"
	SourceHotplug = "hotplug"
)

// Hotplug event bits.
const (
	HotplugPlug   uint32 = 1 << 0
	HotplugUnplug uint32 = 1 << 1
)

// DefaultQueueSize is the reactor queue length when none is given.
const DefaultQueueSize = 64

// Event is one observed interrupt.
type Event struct {
	Source string
	Pipe   int
	// Bits are the status bits acknowledged when the interrupt was taken.
	Bits uint32
	Time time.Time
}

// Handler services an event on the reactor goroutine.
type Handler func(Event)

// Reactor dispatches events to handlers on a single goroutine.
type Reactor struct {
	queue  chan Event
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	dropped atomic.Uint64
	handled atomic.Uint64
}

// NewReactor creates a reactor with a queue of size events.
func NewReactor(size int, logger *slog.Logger) *Reactor {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.GetLogger("irq")
	}
	return &Reactor{
		queue:    make(chan Event, size),
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// Handle registers h for events from source.
func (r *Reactor) Handle(source string, h Handler) {
	r.mu.Lock()
	r.handlers[source] = append(r.handlers[source], h)
	r.mu.Unlock()
}

// Raise queues ev without blocking. When the queue is full the event is
// dropped and false is returned.
func (r *Reactor) Raise(ev Event) bool {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case r.queue <- ev:
		return true
	default:
		r.dropped.Add(1)
		metrics.IncIRQDropped(ev.Source)
		r.logger.Warn("IRQ queue full, event dropped", "source", ev.Source, "pipe", ev.Pipe)
		return false
	}
}

// Run services events until ctx is done.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Debug("IRQ reactor started", "queue", cap(r.queue))
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("IRQ reactor stopped", "handled", r.handled.Load(), "dropped", r.dropped.Load())
			return ctx.Err()
		case ev := <-r.queue:
			r.dispatch(ev)
		}
	}
}

func (r *Reactor) dispatch(ev Event) {
	r.mu.RLock()
	hs := r.handlers[ev.Source]
	r.mu.RUnlock()

	if len(hs) == 0 {
		r.logger.Debug("No handler for IRQ", "source", ev.Source, "pipe", ev.Pipe)
	}
	for _, h := range hs {
		h(ev)
	}
	r.handled.Add(1)
}

// Dropped returns the number of events lost to a full queue.
func (r *Reactor) Dropped() uint64 { return r.dropped.Load() }

// Handled returns the number of events dispatched.
func (r *Reactor) Handled() uint64 { return r.handled.Load() }
