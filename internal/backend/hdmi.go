package backend

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// ColorRange is the RGB quantization range sent to the sink.
type ColorRange int

// Color ranges. ColorRangeAuto picks full range for DVI sinks and 640x480,
// limited range for every other CEA mode.
const (
	ColorRangeAuto ColorRange = iota
	ColorRangeLimited
	ColorRangeFull
)

// ParseColorRange accepts "", "auto", "limited" and "full".
func ParseColorRange(s string) (ColorRange, error) {
	switch s {
	case "", "auto":
		return ColorRangeAuto, nil
	case "limited":
		return ColorRangeLimited, nil
	case "full":
		return ColorRangeFull, nil
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "backend.ParseColorRange", "unknown color range %q", s)
}

func (r ColorRange) String() string {
	switch r {
	case ColorRangeLimited:
		return "limited"
	case ColorRangeFull:
		return "full"
	default:
		return "auto"
	}
}

// HDMIOptions configures an HDMI output.
type HDMIOptions struct {
	DVI          bool
	ColorRange   ColorRange
	NativeVIC    int
	PollInterval time.Duration
	PollTries    int
}

// PHY settings by maximum TMDS character rate.
var hdmiPHYTables = []struct {
	max int64
	cfg [4]uint32
}{
	{27_000_000, [4]uint32{0x0a0, 0x1c1, 0x040, 0x008}},
	{74_250_000, [4]uint32{0x0a1, 0x1e3, 0x048, 0x00c}},
	{148_500_000, [4]uint32{0x0a3, 0x1f7, 0x050, 0x00f}},
}

// HDMI drives the on-chip HDMI transmitter. Only modes from the preset table
// can be output.
type HDMI struct {
	Common
	opts   HDMIOptions
	preset int
	rng    ColorRange
}

// NewHDMI creates an HDMI output. panel supplies the sink's EDID.
func NewHDMI(name string, bank regs.Bank, domain *regs.ClockDomain, panel PanelSource, opts HDMIOptions, logger *slog.Logger) *HDMI {
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.PollTries == 0 {
		opts.PollTries = 500
	}
	h := &HDMI{opts: opts, preset: -1}
	h.init(KindHDMI, name, bank, domain, panel, logger)
	return h
}

// IsConnected reads the hotplug detect line.
func (h *HDMI) IsConnected() bool {
	return h.bank.Read32(RegHDMIHPD)&HDMIHPDActive != 0
}

// FixedTiming is never available on HDMI.
func (h *HDMI) FixedTiming() (mode.Mode, bool) {
	return mode.Mode{}, false
}

// ValidateMode accepts modes found in the preset table.
func (h *HDMI) ValidateMode(m mode.Mode) bool {
	_, err := mode.FindPreset(m.HActive, m.VActive, m.RefreshHz, m.PixelClockHz)
	return err == nil
}

// EnumerateModes yields the sink's EDID modes that the transmitter can output,
// or every supported preset when the EDID is missing or unusable. Exactly one
// candidate is preferred: the configured native mode when listed, otherwise
// the first.
func (h *HDMI) EnumerateModes() iter.Seq[mode.Candidate] {
	return func(yield func(mode.Candidate) bool) {
		cands := h.edidCandidates()
		if len(cands) == 0 {
			for _, p := range mode.Presets {
				if p.Supported {
					cands = append(cands, mode.Candidate{Mode: p.Mode, Origin: mode.OriginPreset})
				}
			}
		}
		if len(cands) == 0 {
			return
		}

		preferred := 0
		if native, ok := mode.PresetByVIC(h.opts.NativeVIC); ok {
			for i, c := range cands {
				if c.Mode == native.Mode {
					preferred = i
					break
				}
			}
		}
		cands[preferred].Preferred = true

		for _, c := range cands {
			if !yield(c) {
				return
			}
		}
	}
}

func (h *HDMI) edidCandidates() []mode.Candidate {
	if h.panel == nil {
		return nil
	}
	data, ok := h.panel.EDID()
	if !ok {
		return nil
	}
	e, err := mode.ParseEDID(data)
	if err != nil {
		h.logger.Warn("Ignoring unreadable EDID", "error", err)
		return nil
	}

	var out []mode.Candidate
	seen := make(map[int]bool)
	for _, c := range e.Modes {
		p, err := mode.FindPreset(c.Mode.HActive, c.Mode.VActive, c.Mode.RefreshHz, c.Mode.PixelClockHz)
		if err != nil || seen[p.VIC] {
			continue
		}
		seen[p.VIC] = true
		out = append(out, mode.Candidate{Mode: p.Mode, Origin: mode.OriginEDID})
	}
	h.logger.Debug("EDID parsed", "monitor", e.Name, "modes", len(e.Modes), "usable", len(out), "hdmi", e.HDMI)
	return out
}

// ApplyMode selects the preset for m and the quantization range.
func (h *HDMI) ApplyMode(m mode.Mode) error {
	if _, err := h.boundPipe("hdmi.ApplyMode"); err != nil {
		return err
	}

	p, err := mode.FindPreset(m.HActive, m.VActive, m.RefreshHz, m.PixelClockHz)
	if err != nil {
		return disperr.Wrap(disperr.CodeNoMatchingMode, "hdmi.ApplyMode", "no preset for "+m.String(), err)
	}
	idx, err := mode.PresetIndex(p.Mode)
	if err != nil {
		return err
	}

	rng := h.resolveRange(p)
	err = h.domain.Do(func() error {
		h.bank.Write32(RegHDMIPreset, uint32(idx))
		quant := uint32(0)
		if rng == ColorRangeFull {
			quant = 1
		}
		h.bank.Write32(RegHDMIQuant, quant)
		dvi := uint32(0)
		if h.opts.DVI {
			dvi = HDMIDVI
		}
		regs.Update(h.bank, RegHDMICtrl, HDMIDVI, dvi)
		return nil
	})

	h.mu.Lock()
	h.preset = idx
	h.rng = rng
	h.mu.Unlock()
	h.logger.Info("HDMI preset selected", "vic", p.VIC, "preset", p.Name, "color_range", rng.String(), "dvi", h.opts.DVI)
	return err
}

func (h *HDMI) resolveRange(p mode.Preset) ColorRange {
	h.mu.Lock()
	configured := h.opts.ColorRange
	h.mu.Unlock()
	if configured != ColorRangeAuto {
		return configured
	}
	if h.opts.DVI || p.VIC == 1 {
		return ColorRangeFull
	}
	return ColorRangeLimited
}

// SetColorRange changes the configured range. It takes effect at the next
// ApplyMode.
func (h *HDMI) SetColorRange(r ColorRange) {
	h.mu.Lock()
	h.opts.ColorRange = r
	h.mu.Unlock()
}

// Preset returns the selected preset table index, or -1.
func (h *HDMI) Preset() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preset
}

// ColorRange returns the range chosen by the last ApplyMode.
func (h *HDMI) ColorRange() ColorRange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng
}

// Prepare programs the PHY for the selected preset and waits for it to report
// ready. It fails with HARDWARE_NOT_READY after PollTries polls.
func (h *HDMI) Prepare(ctx context.Context) error {
	if _, err := h.boundPipe("hdmi.Prepare"); err != nil {
		return err
	}
	preset := h.Preset()
	if preset < 0 {
		return disperr.New(disperr.CodeNoMatchingMode, "hdmi.Prepare", "no mode applied")
	}

	clk := mode.Presets[preset].Mode.PixelClockHz
	cfg := hdmiPHYTables[len(hdmiPHYTables)-1].cfg
	for _, t := range hdmiPHYTables {
		if clk <= t.max {
			cfg = t.cfg
			break
		}
	}

	_ = h.domain.Do(func() error {
		for i, v := range cfg {
			h.bank.Write32(RegHDMIPHYConfig+uint32(i)*4, v)
		}
		regs.SetBits(h.bank, RegHDMIPHYCtrl, HDMIPHYEnable)
		return nil
	})

	for i := range h.opts.PollTries {
		if h.bank.Read32(RegHDMIPHYStatus)&HDMIPHYReady != 0 {
			h.logger.Debug("HDMI PHY ready", "polls", i+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.opts.PollInterval):
		}
	}

	metrics.IncPHYLockTimeout(string(KindHDMI))
	return disperr.Newf(disperr.CodeHardwareNotReady, "hdmi.Prepare", "PHY not ready after %d polls", h.opts.PollTries)
}

// Unprepare powers the PHY down.
func (h *HDMI) Unprepare() error {
	return h.domain.Do(func() error {
		regs.ClearBits(h.bank, RegHDMIPHYCtrl, HDMIPHYEnable)
		return nil
	})
}

// Power starts or stops TMDS output.
func (h *HDMI) Power(on bool) error {
	if on {
		if err := h.setMux("hdmi.Power", true); err != nil {
			return err
		}
		regs.SetBits(h.bank, RegHDMICtrl, HDMITMDSEnable)
		return nil
	}
	regs.ClearBits(h.bank, RegHDMICtrl, HDMITMDSEnable)
	return h.setMux("hdmi.Power", false)
}

// HotplugEvents returns the pending plug and unplug interrupt bits.
func (h *HDMI) HotplugEvents() (plug, unplug bool) {
	v := h.bank.Read32(RegHDMIIRQ)
	return v&HDMIIRQPlug != 0, v&HDMIIRQUnplug != 0
}

// AckHotplug clears both hotplug interrupt bits.
func (h *HDMI) AckHotplug() {
	h.bank.Write32(RegHDMIIRQ, HDMIIRQPlug|HDMIIRQUnplug)
}
