package mode

import (
	"iter"
	"log/slog"
	"sync"

	"github.com/smazurov/displaynode/internal/logging"
)

// Source is the view of an output back-end that negotiation needs.
type Source interface {
	Name() string
	IsConnected() bool
	EnumerateModes() iter.Seq[Candidate]
	ValidateMode(Mode) bool
	FixedTiming() (Mode, bool)
}

// Negotiator picks display modes for back-ends and remembers the last result
// per back-end so repeated hotplug bounces do not renegotiate.
type Negotiator struct {
	mu     sync.Mutex
	cache  map[string]Mode
	logger *slog.Logger
}

// NewNegotiator creates a negotiator. A nil logger uses the "mode" module logger.
func NewNegotiator(logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = logging.GetLogger("mode")
	}
	return &Negotiator{
		cache:  make(map[string]Mode),
		logger: logger,
	}
}

// Discover returns the mode to drive src with. It prefers the candidate the
// back-end marks as preferred, then the first candidate, then the back-end's
// fixed timing. The result is cached until Invalidate is called.
func (n *Negotiator) Discover(src Source) (Mode, bool) {
	name := src.Name()

	if !src.IsConnected() {
		n.Invalidate(name)
		n.logger.Debug("Source not connected", "source", name)
		return Mode{}, false
	}

	n.mu.Lock()
	cached, ok := n.cache[name]
	n.mu.Unlock()
	if ok {
		return cached, true
	}

	var first, preferred *Candidate
	for c := range src.EnumerateModes() {
		if first == nil {
			first = &c
		}
		if c.Preferred {
			preferred = &c
			break
		}
	}

	var chosen Mode
	switch {
	case preferred != nil:
		chosen = preferred.Mode
	case first != nil:
		chosen = first.Mode
	default:
		fixed, hasFixed := src.FixedTiming()
		if !hasFixed {
			n.logger.Warn("No modes available", "source", name)
			return Mode{}, false
		}
		chosen = fixed
	}

	chosen = n.Fixup(chosen)

	n.mu.Lock()
	n.cache[name] = chosen
	n.mu.Unlock()

	n.logger.Info("Mode discovered", "source", name, "mode", chosen.String(), "pixel_clock", chosen.PixelClock().String())
	return chosen, true
}

// Validate reports whether src accepts m.
func (n *Negotiator) Validate(src Source, m Mode) bool {
	return src.ValidateMode(m)
}

// Fixup adjusts a mode to hardware constraints. No back-end needs an
// adjustment today.
func (n *Negotiator) Fixup(m Mode) Mode {
	return m
}

// Invalidate drops the cached mode for a source.
func (n *Negotiator) Invalidate(name string) {
	n.mu.Lock()
	delete(n.cache, name)
	n.mu.Unlock()
}

// Cached returns the last discovered mode for a source.
func (n *Negotiator) Cached(name string) (Mode, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.cache[name]
	return m, ok
}
