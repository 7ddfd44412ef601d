package irq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/displaynode/internal/logging"
)

// DefaultPollInterval is close to one frame at 60 Hz.
const DefaultPollInterval = 16 * time.Millisecond

// Line is an interrupt status register the poller samples. Ack reads the
// pending bits and clears them, returning zero when nothing is pending.
type Line struct {
	Source string
	Pipe   int
	Ack    func() uint32
}

// Poller stands in for interrupt delivery when register status has to be
// polled. It acknowledges pending bits and raises them on a reactor.
type Poller struct {
	reactor  *Reactor
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	lines []Line
}

// NewPoller creates a poller feeding r.
func NewPoller(r *Reactor, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.GetLogger("irq")
	}
	return &Poller{reactor: r, interval: interval, logger: logger}
}

// Add registers a status line.
func (p *Poller) Add(l Line) {
	p.mu.Lock()
	p.lines = append(p.lines, l)
	p.mu.Unlock()
}

// Poll samples every line once and returns the number of events raised.
func (p *Poller) Poll() int {
	p.mu.Lock()
	lines := p.lines
	p.mu.Unlock()

	raised := 0
	now := time.Now()
	for _, l := range lines {
		bits := l.Ack()
		if bits == 0 {
			continue
		}
		if p.reactor.Raise(Event{Source: l.Source, Pipe: l.Pipe, Bits: bits, Time: now}) {
			raised++
		}
	}
	return raised
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug("IRQ poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll()
		}
	}
}
