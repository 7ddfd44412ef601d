package backend

import (
	"context"
	"log/slog"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// LVDSFormat is the bit mapping on the LVDS pairs.
type LVDSFormat uint32

// LVDS formats.
const (
	LVDSVESA LVDSFormat = iota
	LVDSJEIDA
	LVDSLoc
)

// ParseLVDSFormat accepts "vesa", "jeida" and "loc".
func ParseLVDSFormat(s string) (LVDSFormat, error) {
	switch s {
	case "vesa", "":
		return LVDSVESA, nil
	case "jeida":
		return LVDSJEIDA, nil
	case "loc":
		return LVDSLoc, nil
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "backend.ParseLVDSFormat", "unknown LVDS format %q", s)
}

// LVDSOptions configures an LVDS output.
type LVDSOptions struct {
	Format       LVDSFormat
	InvertHSync  bool
	InvertVSync  bool
	InvertDE     bool
	InvertClock  bool
	VoltageLevel uint32
}

// LVDS drives an LVDS panel through the shared LVDS PHY.
type LVDS struct {
	Common
	opts LVDSOptions
	pll  PLL
}

// NewLVDS creates an LVDS output. domain serializes PHY access with other
// pipes on the same PHY clock.
func NewLVDS(name string, bank regs.Bank, domain *regs.ClockDomain, panel PanelSource, opts LVDSOptions, logger *slog.Logger) *LVDS {
	l := &LVDS{opts: opts}
	l.init(KindLVDS, name, bank, domain, panel, logger)
	return l
}

// ApplyMode programs the serializer PLL for the mode's pixel clock together
// with format, polarity and swing.
func (l *LVDS) ApplyMode(m mode.Mode) error {
	if _, err := l.boundPipe("lvds.ApplyMode"); err != nil {
		return err
	}

	pll, inRange := LVDSPLLFor(m.PixelClock())
	if !inRange {
		l.logger.Warn("Pixel clock above LVDS PLL table, using fastest setting", "pixel_clock", m.PixelClock().String())
	}

	ctrl := uint32(l.opts.Format) & 0x3
	if l.opts.InvertHSync {
		ctrl |= LVDSInvertHSync
	}
	if l.opts.InvertVSync {
		ctrl |= LVDSInvertVSync
	}
	if l.opts.InvertDE {
		ctrl |= LVDSInvertDE
	}
	if l.opts.InvertClock {
		ctrl |= LVDSInvertClock
	}

	err := l.domain.Do(func() error {
		l.bank.Write32(RegLVDSCtrl, ctrl)
		l.bank.Write32(RegLVDSPLL, pll.word())
		l.bank.Write32(RegLVDSVoltage, l.opts.VoltageLevel)
		return nil
	})
	l.pll = pll
	l.logger.Debug("LVDS mode applied", "mode", m.String(), "pll", pll.Output().String(), "band", pll.Band)
	return err
}

// Prepare pulses the PHY reset.
func (l *LVDS) Prepare(context.Context) error {
	return l.domain.Do(func() error {
		l.bank.Write32(RegLVDSPHYReset, 1)
		l.bank.Write32(RegLVDSPHYReset, 0)
		return nil
	})
}

// Unprepare holds the PHY in reset.
func (l *LVDS) Unprepare() error {
	return l.domain.Do(func() error {
		l.bank.Write32(RegLVDSPHYReset, 1)
		return nil
	})
}

// Power switches the output mux.
func (l *LVDS) Power(on bool) error {
	return l.setMux("lvds.Power", on)
}
