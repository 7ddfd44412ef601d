package mode

import (
	"github.com/smazurov/displaynode/internal/disperr"
)

// Preset is an entry of the HDMI transmitter timing table.
type Preset struct {
	VIC       int
	Name      string
	Mode      Mode
	Supported bool
}

func cea(hActive, hFP, hSync, hBP, vActive, vFP, vSync, vBP int, clk int64, refresh int, pol Polarity) Mode {
	return Mode{
		HActive: hActive, HFrontPorch: hFP, HSyncLen: hSync, HBackPorch: hBP,
		VActive: vActive, VFrontPorch: vFP, VSyncLen: vSync, VBackPorch: vBP,
		PixelClockHz: clk, RefreshHz: refresh,
		HSyncPolarity: pol, VSyncPolarity: pol,
	}
}

func interlaced(m Mode) Mode {
	m.Interlaced = true
	return m
}

// Presets is the HDMI timing table. Interlaced entries are listed so EDID
// short video descriptors resolve, but the PHY table has no settings for them.
var Presets = []Preset{
	{VIC: 1, Name: "640x480p60", Mode: cea(640, 16, 96, 48, 480, 10, 2, 33, 25_200_000, 60, ActiveLow), Supported: true},
	{VIC: 2, Name: "720x480p60", Mode: cea(720, 16, 62, 60, 480, 9, 6, 30, 27_000_000, 60, ActiveLow), Supported: true},
	{VIC: 4, Name: "1280x720p60", Mode: cea(1280, 110, 40, 220, 720, 5, 5, 20, 74_250_000, 60, ActiveHigh), Supported: true},
	{VIC: 5, Name: "1920x1080i60", Mode: interlaced(cea(1920, 88, 44, 148, 1080, 4, 10, 31, 74_250_000, 60, ActiveHigh))},
	{VIC: 16, Name: "1920x1080p60", Mode: cea(1920, 88, 44, 148, 1080, 4, 5, 36, 148_500_000, 60, ActiveHigh), Supported: true},
	{VIC: 17, Name: "720x576p50", Mode: cea(720, 12, 64, 68, 576, 5, 5, 39, 27_000_000, 50, ActiveLow), Supported: true},
	{VIC: 19, Name: "1280x720p50", Mode: cea(1280, 440, 40, 220, 720, 5, 5, 20, 74_250_000, 50, ActiveHigh), Supported: true},
	{VIC: 20, Name: "1920x1080i50", Mode: interlaced(cea(1920, 528, 44, 148, 1080, 4, 10, 31, 74_250_000, 50, ActiveHigh))},
	{VIC: 31, Name: "1920x1080p50", Mode: cea(1920, 528, 44, 148, 1080, 4, 5, 36, 148_500_000, 50, ActiveHigh), Supported: true},
	{VIC: 32, Name: "1920x1080p24", Mode: cea(1920, 638, 44, 148, 1080, 4, 5, 36, 74_250_000, 24, ActiveHigh), Supported: true},
	{VIC: 33, Name: "1920x1080p25", Mode: cea(1920, 528, 44, 148, 1080, 4, 5, 36, 74_250_000, 25, ActiveHigh), Supported: true},
	{VIC: 34, Name: "1920x1080p30", Mode: cea(1920, 88, 44, 148, 1080, 4, 5, 36, 74_250_000, 30, ActiveHigh), Supported: true},
}

// dmt holds VESA timings that EDID established and standard timings refer to.
var dmt = []Mode{
	cea(640, 16, 96, 48, 480, 10, 2, 33, 25_175_000, 60, ActiveLow),
	cea(800, 40, 128, 88, 600, 1, 4, 23, 40_000_000, 60, ActiveHigh),
	cea(1024, 24, 136, 160, 768, 3, 6, 29, 65_000_000, 60, ActiveLow),
	cea(1280, 48, 112, 248, 1024, 1, 3, 38, 108_000_000, 60, ActiveHigh),
	cea(1280, 72, 128, 200, 800, 3, 6, 22, 83_500_000, 60, ActiveLow),
	cea(1680, 104, 176, 280, 1050, 3, 6, 30, 146_250_000, 60, ActiveLow),
}

// FindPreset returns the supported preset with the given active size and
// refresh rate. A non-zero pixelClockHz must match the preset exactly.
func FindPreset(hActive, vActive, refreshHz int, pixelClockHz int64) (Preset, error) {
	for _, p := range Presets {
		if !p.Supported {
			continue
		}
		m := p.Mode
		if m.HActive != hActive || m.VActive != vActive || m.RefreshHz != refreshHz {
			continue
		}
		if pixelClockHz != 0 && m.PixelClockHz != pixelClockHz {
			continue
		}
		return p, nil
	}
	return Preset{}, disperr.Newf(disperr.CodeNoMatchingMode, "mode.FindPreset",
		"no preset for %dx%d@%d (%d Hz)", hActive, vActive, refreshHz, pixelClockHz)
}

// PresetIndex returns the table index of the preset matching m.
func PresetIndex(m Mode) (int, error) {
	p, err := FindPreset(m.HActive, m.VActive, m.RefreshHz, m.PixelClockHz)
	if err != nil {
		return -1, err
	}
	for i := range Presets {
		if Presets[i].VIC == p.VIC {
			return i, nil
		}
	}
	return -1, err
}

// PresetByVIC looks up a preset by its CEA video identification code.
func PresetByVIC(vic int) (Preset, bool) {
	for _, p := range Presets {
		if p.VIC == vic {
			return p, true
		}
	}
	return Preset{}, false
}

// lookupTiming finds a full timing for a size and refresh rate, preferring the
// HDMI presets over VESA timings.
func lookupTiming(w, h, refresh int) (Mode, bool) {
	if p, err := FindPreset(w, h, refresh, 0); err == nil {
		return p.Mode, true
	}
	for _, m := range dmt {
		if m.HActive == w && m.VActive == h && m.RefreshHz == refresh {
			return m, true
		}
	}
	return Mode{}, false
}
