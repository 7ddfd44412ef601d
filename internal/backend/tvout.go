package backend

import (
	"context"
	"iter"
	"log/slog"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// CCIRFormat is the analog video standard.
type CCIRFormat int

// CCIR formats.
const (
	NTSC CCIRFormat = iota
	PAL
)

// ParseCCIRFormat accepts "ntsc" and "pal".
func ParseCCIRFormat(s string) (CCIRFormat, error) {
	switch s {
	case "ntsc", "":
		return NTSC, nil
	case "pal":
		return PAL, nil
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "backend.ParseCCIRFormat", "unknown TV format %q", s)
}

func (f CCIRFormat) String() string {
	if f == PAL {
		return "pal"
	}
	return "ntsc"
}

// Mode returns the CCIR 656 timing of the format.
func (f CCIRFormat) Mode() mode.Mode {
	if f == PAL {
		return mode.Mode{
			HActive: 720, HFrontPorch: 12, HSyncLen: 63, HBackPorch: 69,
			VActive: 576, VFrontPorch: 5, VSyncLen: 5, VBackPorch: 39,
			PixelClockHz: 13_500_000, RefreshHz: 50, Interlaced: true,
		}
	}
	return mode.Mode{
		HActive: 720, HFrontPorch: 16, HSyncLen: 62, HBackPorch: 60,
		VActive: 480, VFrontPorch: 8, VSyncLen: 6, VBackPorch: 31,
		PixelClockHz: 13_500_000, RefreshHz: 60, Interlaced: true,
	}
}

// TVOut drives the composite video encoder.
type TVOut struct {
	Common
	format CCIRFormat
}

// NewTVOut creates a TV-out output.
func NewTVOut(name string, bank regs.Bank, format CCIRFormat, logger *slog.Logger) *TVOut {
	t := &TVOut{format: format}
	t.init(KindTVOut, name, bank, nil, nil, logger)
	return t
}

// FixedTiming returns the timing of the configured standard.
func (t *TVOut) FixedTiming() (mode.Mode, bool) {
	return t.format.Mode(), true
}

// EnumerateModes yields the configured standard's timing.
func (t *TVOut) EnumerateModes() iter.Seq[mode.Candidate] {
	return func(yield func(mode.Candidate) bool) {
		yield(mode.Candidate{Mode: t.format.Mode(), Preferred: true, Origin: mode.OriginTiming})
	}
}

// ValidateMode accepts only the configured standard.
func (t *TVOut) ValidateMode(m mode.Mode) bool {
	return m == t.format.Mode()
}

// ApplyMode selects the CCIR standard. The encoder cannot scan other
// geometries.
func (t *TVOut) ApplyMode(m mode.Mode) error {
	if _, err := t.boundPipe("tvout.ApplyMode"); err != nil {
		return err
	}
	want := t.format.Mode()
	if m.HActive != want.HActive || m.VActive != want.VActive {
		return disperr.Newf(disperr.CodeNoMatchingMode, "tvout.ApplyMode", "%s cannot output %s", t.format, m)
	}
	var pal uint32
	if t.format == PAL {
		pal = TVPAL
	}
	regs.Update(t.bank, RegTVCtrl, TVPAL, pal)
	return nil
}

// Prepare powers the DAC.
func (t *TVOut) Prepare(context.Context) error {
	regs.SetBits(t.bank, RegTVDAC, TVDACPower)
	return nil
}

// Unprepare powers the DAC down.
func (t *TVOut) Unprepare() error {
	regs.ClearBits(t.bank, RegTVDAC, TVDACPower)
	return nil
}

// Power starts or stops the CCIR encoder.
func (t *TVOut) Power(on bool) error {
	if err := t.setMux("tvout.Power", on); err != nil {
		return err
	}
	if on {
		regs.SetBits(t.bank, RegTVCtrl, TVCCIREnable)
	} else {
		regs.ClearBits(t.bank, RegTVCtrl, TVCCIREnable)
	}
	return nil
}
