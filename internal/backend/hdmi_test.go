package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

func newTestHDMI(t *testing.T, panel PanelSource, opts HDMIOptions) (*HDMI, *regs.Memory) {
	t.Helper()
	bank := regs.NewMemory("hdmi")
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	h := NewHDMI("hdmi0", bank, regs.NewClockDomain("hdmi"), panel, opts, testLogger())
	if err := h.Open(1); err != nil {
		t.Fatal(err)
	}
	return h, bank
}

func collect(h *HDMI) []mode.Candidate {
	var out []mode.Candidate
	for c := range h.EnumerateModes() {
		out = append(out, c)
	}
	return out
}

func TestHDMI_ValidateAgainstPresetTable(t *testing.T) {
	h, _ := newTestHDMI(t, nil, HDMIOptions{})

	exact := mode.Mode{HActive: 1920, VActive: 1080, RefreshHz: 60, PixelClockHz: 148_500_000}
	if !h.ValidateMode(exact) {
		t.Error("1920x1080@60 148.5MHz should validate")
	}

	off := exact
	off.PixelClockHz = 148_500_001
	if h.ValidateMode(off) {
		t.Error("pixel clock off by one should not validate")
	}
	if err := h.ApplyMode(off); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("ApplyMode = %v, want NO_MATCHING_MODE", err)
	}
	if h.Preset() != -1 {
		t.Error("failed ApplyMode must not select a preset")
	}
}

func TestHDMI_ApplyModeSelectsPresetAndRange(t *testing.T) {
	tests := []struct {
		name   string
		opts   HDMIOptions
		mode   mode.Mode
		index  int
		rng    ColorRange
		dviBit bool
	}{
		{"cea limited", HDMIOptions{}, mode.Presets[4].Mode, 4, ColorRangeLimited, false},
		{"vga full", HDMIOptions{}, mode.Presets[0].Mode, 0, ColorRangeFull, false},
		{"dvi full", HDMIOptions{DVI: true}, mode.Presets[2].Mode, 2, ColorRangeFull, true},
		{"forced limited", HDMIOptions{DVI: true, ColorRange: ColorRangeLimited}, mode.Presets[2].Mode, 2, ColorRangeLimited, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, bank := newTestHDMI(t, nil, tt.opts)
			if err := h.ApplyMode(tt.mode); err != nil {
				t.Fatal(err)
			}
			if h.Preset() != tt.index || bank.Peek(RegHDMIPreset) != uint32(tt.index) {
				t.Errorf("preset = %d (reg %d), want %d", h.Preset(), bank.Peek(RegHDMIPreset), tt.index)
			}
			if h.ColorRange() != tt.rng {
				t.Errorf("range = %v, want %v", h.ColorRange(), tt.rng)
			}
			wantQuant := uint32(0)
			if tt.rng == ColorRangeFull {
				wantQuant = 1
			}
			if bank.Peek(RegHDMIQuant) != wantQuant {
				t.Errorf("quant reg = %d", bank.Peek(RegHDMIQuant))
			}
			if (bank.Peek(RegHDMICtrl)&HDMIDVI != 0) != tt.dviBit {
				t.Errorf("DVI bit = %v", !tt.dviBit)
			}
		})
	}
}

// Run with -race: readers of the active preset race a modeset otherwise.
func TestHDMI_PresetReadsDuringApply(t *testing.T) {
	h, _ := newTestHDMI(t, nil, HDMIOptions{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = h.Preset()
			_ = h.ColorRange()
		}
	}()
	for i := 0; i < 200; i++ {
		m := mode.Presets[i%2*4].Mode
		if err := h.ApplyMode(m); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	if h.Preset() != 4 {
		t.Errorf("preset = %d, want 4", h.Preset())
	}
}

func TestHDMI_SetColorRange(t *testing.T) {
	h, bank := newTestHDMI(t, nil, HDMIOptions{})
	cea := mode.Presets[4].Mode

	if err := h.ApplyMode(cea); err != nil {
		t.Fatal(err)
	}
	if h.ColorRange() != ColorRangeLimited {
		t.Fatalf("range = %v", h.ColorRange())
	}

	h.SetColorRange(ColorRangeFull)
	if h.ColorRange() != ColorRangeLimited {
		t.Error("range changed before the next ApplyMode")
	}
	if err := h.ApplyMode(cea); err != nil {
		t.Fatal(err)
	}
	if h.ColorRange() != ColorRangeFull || bank.Peek(RegHDMIQuant) != 1 {
		t.Errorf("range = %v, quant reg = %d", h.ColorRange(), bank.Peek(RegHDMIQuant))
	}
}

func TestHDMI_EnumerateFromEDID(t *testing.T) {
	edid := mode.BuildEDID(mode.EDIDSpec{
		Manufacturer: "DNM",
		Name:         "bench",
		Timings:      []mode.Mode{mode.Presets[2].Mode, mode.Presets[4].Mode},
		VICs:         []int{16, 4, 17},
		HDMI:         true,
	})
	panel := &fakePanel{present: true, edid: edid}

	h, _ := newTestHDMI(t, panel, HDMIOptions{})
	cands := collect(h)
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3 (720p60, 1080p60, 576p50): %+v", len(cands), cands)
	}
	if !cands[0].Preferred || cands[0].Mode != mode.Presets[2].Mode {
		t.Errorf("first EDID mode should be preferred: %+v", cands[0])
	}
	for _, c := range cands {
		if c.Origin != mode.OriginEDID {
			t.Errorf("origin = %s", c.Origin)
		}
	}

	native, _ := newTestHDMI(t, panel, HDMIOptions{NativeVIC: 16})
	preferred := 0
	for _, c := range collect(native) {
		if c.Preferred {
			preferred++
			if c.Mode != mode.Presets[4].Mode {
				t.Errorf("native 1080p60 should be preferred, got %s", c.Mode)
			}
		}
	}
	if preferred != 1 {
		t.Errorf("%d preferred candidates, want 1", preferred)
	}
}

func TestHDMI_EnumerateFallsBackToPresets(t *testing.T) {
	h, _ := newTestHDMI(t, &fakePanel{present: true, edid: []byte{1, 2, 3}}, HDMIOptions{NativeVIC: 19})

	cands := collect(h)
	supported := 0
	for _, p := range mode.Presets {
		if p.Supported {
			supported++
		}
	}
	if len(cands) != supported {
		t.Fatalf("got %d candidates, want %d", len(cands), supported)
	}
	for _, c := range cands {
		if c.Mode.Interlaced {
			t.Errorf("unsupported interlaced preset listed: %s", c.Mode)
		}
		if c.Preferred && c.Mode != mode.Presets[6].Mode {
			t.Errorf("preferred = %s, want 720p50", c.Mode)
		}
	}
}

func TestHDMI_PrepareWaitsForPHY(t *testing.T) {
	h, bank := newTestHDMI(t, nil, HDMIOptions{})
	if err := h.Prepare(context.Background()); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("Prepare without mode = %v", err)
	}
	if err := h.ApplyMode(mode.Presets[2].Mode); err != nil {
		t.Fatal(err)
	}

	reads := 0
	bank.OnRead(RegHDMIPHYStatus, func(uint32) uint32 {
		reads++
		if reads >= 3 {
			return HDMIPHYReady
		}
		return 0
	})

	if err := h.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if reads != 3 {
		t.Errorf("polled %d times, want 3", reads)
	}
	if bank.Peek(RegHDMIPHYCtrl)&HDMIPHYEnable == 0 {
		t.Error("PHY not enabled")
	}
	if bank.Peek(RegHDMIPHYConfig) != hdmiPHYTables[1].cfg[0] {
		t.Errorf("PHY config for 74.25MHz not written: %#x", bank.Peek(RegHDMIPHYConfig))
	}

	if err := h.Unprepare(); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegHDMIPHYCtrl)&HDMIPHYEnable != 0 {
		t.Error("PHY still enabled")
	}
}

func TestHDMI_PrepareTimesOut(t *testing.T) {
	h, _ := newTestHDMI(t, nil, HDMIOptions{PollTries: 5})
	if err := h.ApplyMode(mode.Presets[4].Mode); err != nil {
		t.Fatal(err)
	}

	err := h.Prepare(context.Background())
	if !errors.Is(err, disperr.ErrHardwareNotReady) {
		t.Fatalf("Prepare = %v, want HARDWARE_NOT_READY", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h2, _ := newTestHDMI(t, nil, HDMIOptions{PollInterval: time.Hour})
	if err := h2.ApplyMode(mode.Presets[4].Mode); err != nil {
		t.Fatal(err)
	}
	if err := h2.Prepare(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Prepare with cancelled context = %v", err)
	}
}

func TestHDMI_HotplugAndPower(t *testing.T) {
	h, bank := newTestHDMI(t, nil, HDMIOptions{})

	if h.IsConnected() {
		t.Error("HPD low should read disconnected")
	}
	bank.Poke(RegHDMIHPD, HDMIHPDActive)
	if !h.IsConnected() {
		t.Error("HPD high should read connected")
	}

	bank.Poke(RegHDMIIRQ, HDMIIRQPlug)
	plug, unplug := h.HotplugEvents()
	if !plug || unplug {
		t.Errorf("events = %v, %v", plug, unplug)
	}
	h.AckHotplug()
	if bank.Peek(RegHDMIIRQ) != HDMIIRQPlug|HDMIIRQUnplug {
		t.Errorf("ack should write both bits, got %#x", bank.Peek(RegHDMIIRQ))
	}

	if err := h.Power(true); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegHDMICtrl)&HDMITMDSEnable == 0 || bank.Peek(RegOutputMux) != 1<<1|MuxEnable {
		t.Error("TMDS or mux not enabled")
	}
	if err := h.Power(false); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegHDMICtrl)&HDMITMDSEnable != 0 || bank.Peek(RegOutputMux) != 0 {
		t.Error("TMDS or mux still enabled")
	}
}
