// Package backend implements the output technologies a display pipe can drive:
// parallel RGB, LVDS, MIPI-DSI, HDMI and analog TV-out.
//
// Every back-end owns its output register block and takes part in mode
// negotiation through the mode.Source methods. The pipeline sequences the
// remaining hooks in a fixed order: ApplyMode, Prepare, Power(true) on the way
// up and Power(false), Unprepare on the way down.
package backend

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// Kind names an output technology.
type Kind string

// Output kinds.
const (
	KindRGB   Kind = "rgb"
	KindLVDS  Kind = "lvds"
	KindMIPI  Kind = "mipi"
	KindHDMI  Kind = "hdmi"
	KindTVOut Kind = "tvout"
)

// Backend is one output technology bound to a timing generator.
type Backend interface {
	mode.Source

	Kind() Kind
	// Open binds the back-end to a pipe. Opening the same pipe again is a
	// no-op; opening a different one fails with RESOURCE_BUSY.
	Open(pipe int) error
	// ApplyMode programs PHY and clock parameters derived from m.
	ApplyMode(m mode.Mode) error
	// Prepare runs before the output is enabled.
	Prepare(ctx context.Context) error
	// Unprepare runs after the output is disabled.
	Unprepare() error
	// Power starts or stops the output.
	Power(on bool) error
}

// PanelSource reports what is attached to an output.
type PanelSource interface {
	Present() bool
	Timing() (mode.Mode, bool)
	EDID() ([]byte, bool)
}

// Common holds what every back-end needs. It is embedded by the variants.
type Common struct {
	kind   Kind
	name   string
	bank   regs.Bank
	domain *regs.ClockDomain
	panel  PanelSource
	logger *slog.Logger

	mu     sync.Mutex
	pipe   int
	opened bool
}

func (c *Common) init(kind Kind, name string, bank regs.Bank, domain *regs.ClockDomain, panel PanelSource, logger *slog.Logger) {
	if logger == nil {
		logger = logging.GetLogger("backend")
	}
	if domain == nil {
		domain = regs.NewClockDomain(string(kind))
	}
	if name == "" {
		name = string(kind)
	}
	c.kind = kind
	c.name = name
	c.bank = bank
	c.domain = domain
	c.panel = panel
	c.logger = logger.With("output", name)
	c.pipe = -1
}

// Kind returns the output technology.
func (c *Common) Kind() Kind { return c.kind }

// Name returns the output name used in logs and as the negotiation cache key.
func (c *Common) Name() string { return c.name }

// Pipe returns the bound pipe, or -1.
func (c *Common) Pipe() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipe
}

// Open implements Backend.
func (c *Common) Open(pipe int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		if c.pipe == pipe {
			return nil
		}
		return disperr.Newf(disperr.CodeResourceBusy, "backend.Open", "%s already bound to pipe %d", c.name, c.pipe)
	}
	if pipe < 0 {
		return disperr.Newf(disperr.CodeInvalidArgument, "backend.Open", "pipe %d out of range", pipe)
	}
	c.pipe = pipe
	c.opened = true
	c.logger = c.logger.With("pipe", pipe)
	c.logger.Debug("Output bound")
	return nil
}

func (c *Common) boundPipe(op string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return -1, disperr.New(disperr.CodeHardwareNotReady, op, c.name+" not opened")
	}
	return c.pipe, nil
}

// IsConnected reports whether a panel is attached. Panels are assumed present
// unless their source says otherwise.
func (c *Common) IsConnected() bool {
	return c.panel == nil || c.panel.Present()
}

// FixedTiming returns the panel's static timing.
func (c *Common) FixedTiming() (mode.Mode, bool) {
	if c.panel == nil {
		return mode.Mode{}, false
	}
	return c.panel.Timing()
}

// EnumerateModes yields the panel's single timing.
func (c *Common) EnumerateModes() iter.Seq[mode.Candidate] {
	return func(yield func(mode.Candidate) bool) {
		if m, ok := c.FixedTiming(); ok {
			yield(mode.Candidate{Mode: m, Preferred: true, Origin: mode.OriginTiming})
		}
	}
}

// ValidateMode accepts only the panel's own timing.
func (c *Common) ValidateMode(m mode.Mode) bool {
	fixed, ok := c.FixedTiming()
	return ok && fixed == m
}

// setMux routes the bound pipe to this output.
func (c *Common) setMux(op string, on bool) error {
	pipe, err := c.boundPipe(op)
	if err != nil {
		return err
	}
	if !on {
		c.bank.Write32(RegOutputMux, 0)
		return nil
	}
	c.bank.Write32(RegOutputMux, uint32(pipe)<<1|MuxEnable)
	return nil
}
