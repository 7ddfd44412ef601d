// Package mode describes display timings and negotiates them with output back-ends.
package mode

import (
	"fmt"

	"github.com/smazurov/displaynode/internal/disperr"
	"periph.io/x/conn/v3/physic"
)

// Polarity is the active level of a sync signal.
type Polarity int

// Sync polarities.
const (
	ActiveLow Polarity = iota
	ActiveHigh
)

func (p Polarity) String() string {
	if p == ActiveHigh {
		return "+"
	}
	return "-"
}

// MarshalText encodes the polarity as "high" or "low".
func (p Polarity) MarshalText() ([]byte, error) {
	if p == ActiveHigh {
		return []byte("high"), nil
	}
	return []byte("low"), nil
}

// UnmarshalText accepts "high", "low", "+" and "-".
func (p *Polarity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "high", "+", "positive":
		*p = ActiveHigh
	case "low", "-", "negative", "":
		*p = ActiveLow
	default:
		return fmt.Errorf("mode: invalid sync polarity %q", text)
	}
	return nil
}

// Mode is a complete display timing. Widths and porches are in pixels or lines.
// For interlaced modes the vertical fields describe the full frame and
// RefreshHz is the field rate.
type Mode struct {
	HActive       int      `toml:"h_active" json:"h_active"`
	HSyncLen      int      `toml:"h_sync_len" json:"h_sync_len"`
	HBackPorch    int      `toml:"h_back_porch" json:"h_back_porch"`
	HFrontPorch   int      `toml:"h_front_porch" json:"h_front_porch"`
	VActive       int      `toml:"v_active" json:"v_active"`
	VSyncLen      int      `toml:"v_sync_len" json:"v_sync_len"`
	VBackPorch    int      `toml:"v_back_porch" json:"v_back_porch"`
	VFrontPorch   int      `toml:"v_front_porch" json:"v_front_porch"`
	PixelClockHz  int64    `toml:"pixel_clock_hz" json:"pixel_clock_hz"`
	RefreshHz     int      `toml:"refresh_hz" json:"refresh_hz"`
	Interlaced    bool     `toml:"interlaced" json:"interlaced"`
	HSyncPolarity Polarity `toml:"hsync_polarity" json:"hsync_polarity"`
	VSyncPolarity Polarity `toml:"vsync_polarity" json:"vsync_polarity"`
}

// HTotal returns the total line length including blanking.
func (m Mode) HTotal() int {
	return m.HActive + m.HSyncLen + m.HBackPorch + m.HFrontPorch
}

// VTotal returns the total frame height including blanking.
func (m Mode) VTotal() int {
	return m.VActive + m.VSyncLen + m.VBackPorch + m.VFrontPorch
}

// ExpectedPixelClock derives the pixel clock from the totals and refresh rate.
func (m Mode) ExpectedPixelClock() int64 {
	clk := int64(m.HTotal()) * int64(m.VTotal()) * int64(m.RefreshHz)
	if m.Interlaced {
		clk /= 2
	}
	return clk
}

// ClockPlausible reports whether PixelClockHz agrees with the totals and
// refresh rate within 2%. It is a sanity check only; presets keep all four
// values independently.
func (m Mode) ClockPlausible() bool {
	want := m.ExpectedPixelClock()
	if want == 0 || m.PixelClockHz == 0 {
		return false
	}
	diff := m.PixelClockHz - want
	if diff < 0 {
		diff = -diff
	}
	return diff*50 <= want
}

// PixelClock returns the pixel clock as a physic.Frequency.
func (m Mode) PixelClock() physic.Frequency {
	return physic.Frequency(m.PixelClockHz) * physic.Hertz
}

// Validate checks the structural invariants of the timing.
func (m Mode) Validate() error {
	if m.HActive <= 0 || m.VActive <= 0 {
		return disperr.Newf(disperr.CodeInvalidArgument, "mode.Validate", "active area %dx%d must be positive", m.HActive, m.VActive)
	}
	for name, v := range map[string]int{
		"h_sync_len":    m.HSyncLen,
		"h_back_porch":  m.HBackPorch,
		"h_front_porch": m.HFrontPorch,
		"v_sync_len":    m.VSyncLen,
		"v_back_porch":  m.VBackPorch,
		"v_front_porch": m.VFrontPorch,
	} {
		if v < 0 {
			return disperr.Newf(disperr.CodeInvalidArgument, "mode.Validate", "%s is negative (%d)", name, v)
		}
	}
	if m.PixelClockHz < 0 || m.RefreshHz < 0 {
		return disperr.New(disperr.CodeInvalidArgument, "mode.Validate", "clock and refresh must not be negative")
	}
	return nil
}

// SameTiming reports whether m and o differ at most in their active size.
func (m Mode) SameTiming(o Mode) bool {
	m.HActive, m.VActive = 0, 0
	o.HActive, o.VActive = 0, 0
	return m == o
}

func (m Mode) String() string {
	scan := "p"
	if m.Interlaced {
		scan = "i"
	}
	return fmt.Sprintf("%dx%d%s@%d", m.HActive, m.VActive, scan, m.RefreshHz)
}

// Origin records where a candidate mode came from.
type Origin string

// Candidate origins.
const (
	OriginEDID   Origin = "edid"
	OriginTiming Origin = "timing"
	OriginPreset Origin = "preset"
)

// Candidate is a mode offered by a back-end during negotiation.
type Candidate struct {
	Mode      Mode   `json:"mode"`
	Preferred bool   `json:"preferred"`
	Origin    Origin `json:"origin"`
}
