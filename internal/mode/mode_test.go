package mode

import (
	"errors"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/displaynode/internal/disperr"
)

func TestMode_Totals(t *testing.T) {
	p, err := FindPreset(1920, 1080, 60, 0)
	if err != nil {
		t.Fatalf("FindPreset: %v", err)
	}
	m := p.Mode

	if got := m.HTotal(); got != 2200 {
		t.Errorf("HTotal() = %d, want 2200", got)
	}
	if got := m.VTotal(); got != 1125 {
		t.Errorf("VTotal() = %d, want 1125", got)
	}
	if got := m.ExpectedPixelClock(); got != 148_500_000 {
		t.Errorf("ExpectedPixelClock() = %d, want 148500000", got)
	}
	if !m.ClockPlausible() {
		t.Error("1080p60 preset clock should be plausible")
	}
	if got := m.String(); got != "1920x1080p@60" {
		t.Errorf("String() = %q", got)
	}
}

func TestMode_ClockPlausible(t *testing.T) {
	for _, p := range Presets {
		if !p.Mode.ClockPlausible() {
			t.Errorf("preset %s: pixel clock %d far from expected %d", p.Name, p.Mode.PixelClockHz, p.Mode.ExpectedPixelClock())
		}
	}

	m := Presets[0].Mode
	m.PixelClockHz *= 2
	if m.ClockPlausible() {
		t.Error("doubled pixel clock should not be plausible")
	}
}

func TestMode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Mode)
		wantErr bool
	}{
		{"valid preset", func(*Mode) {}, false},
		{"zero width", func(m *Mode) { m.HActive = 0 }, true},
		{"negative porch", func(m *Mode) { m.VBackPorch = -1 }, true},
		{"negative sync", func(m *Mode) { m.HSyncLen = -4 }, true},
		{"zero porches", func(m *Mode) { m.HFrontPorch, m.VFrontPorch = 0, 0 }, false},
		{"negative clock", func(m *Mode) { m.PixelClockHz = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Presets[0].Mode
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, disperr.ErrInvalidArgument) {
				t.Errorf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

func TestMode_SameTiming(t *testing.T) {
	a := Presets[4].Mode
	b := a
	b.HActive = 960
	if !a.SameTiming(b) {
		t.Error("modes differing only in active width should share timing")
	}
	b.HBackPorch++
	if a.SameTiming(b) {
		t.Error("modes with different porches should not share timing")
	}
}

func TestMode_TOMLPolarity(t *testing.T) {
	var doc struct {
		Timing Mode `toml:"timing"`
	}
	input := `
[timing]
h_active = 1024
v_active = 600
h_sync_len = 20
h_back_porch = 140
h_front_porch = 160
v_sync_len = 3
v_back_porch = 20
v_front_porch = 12
pixel_clock_hz = 51200000
refresh_hz = 60
hsync_polarity = "high"
vsync_polarity = "low"
`
	if err := toml.Unmarshal([]byte(input), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Timing.HSyncPolarity != ActiveHigh || doc.Timing.VSyncPolarity != ActiveLow {
		t.Errorf("polarities = %v/%v", doc.Timing.HSyncPolarity, doc.Timing.VSyncPolarity)
	}
	if doc.Timing.HTotal() != 1344 {
		t.Errorf("HTotal() = %d, want 1344", doc.Timing.HTotal())
	}
}
