package backend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
	"periph.io/x/conn/v3/physic"
)

type fakePanel struct {
	present bool
	timing  *mode.Mode
	edid    []byte
}

func (p *fakePanel) Present() bool { return p.present }

func (p *fakePanel) Timing() (mode.Mode, bool) {
	if p.timing == nil {
		return mode.Mode{}, false
	}
	return *p.timing, true
}

func (p *fakePanel) EDID() ([]byte, bool) { return p.edid, p.edid != nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var panelTiming = mode.Mode{
	HActive: 1024, HSyncLen: 20, HBackPorch: 140, HFrontPorch: 160,
	VActive: 600, VSyncLen: 3, VBackPorch: 20, VFrontPorch: 12,
	PixelClockHz: 51_200_000, RefreshHz: 60,
}

func TestOpen(t *testing.T) {
	r := NewRGB("lcd", regs.NewMemory("rgb"), nil, false, testLogger())

	if err := r.ApplyMode(panelTiming); !errors.Is(err, disperr.ErrHardwareNotReady) {
		t.Errorf("ApplyMode before Open = %v, want HARDWARE_NOT_READY", err)
	}
	if err := r.Open(-1); !errors.Is(err, disperr.ErrInvalidArgument) {
		t.Errorf("Open(-1) = %v", err)
	}
	if err := r.Open(1); err != nil {
		t.Fatal(err)
	}
	if err := r.Open(1); err != nil {
		t.Errorf("second Open of same pipe = %v, want nil", err)
	}
	if err := r.Open(0); !errors.Is(err, disperr.ErrResourceBusy) {
		t.Errorf("Open of other pipe = %v, want RESOURCE_BUSY", err)
	}
	if r.Pipe() != 1 {
		t.Errorf("Pipe() = %d", r.Pipe())
	}
}

func TestPanelNegotiation(t *testing.T) {
	timing := panelTiming
	panel := &fakePanel{present: true, timing: &timing}
	r := NewRGB("lcd", regs.NewMemory("rgb"), panel, false, testLogger())

	if !r.IsConnected() {
		t.Error("panel should be connected")
	}
	var got []mode.Candidate
	for c := range r.EnumerateModes() {
		got = append(got, c)
	}
	if len(got) != 1 || !got[0].Preferred || got[0].Mode != panelTiming {
		t.Errorf("EnumerateModes = %+v", got)
	}
	if !r.ValidateMode(panelTiming) {
		t.Error("own timing should validate")
	}
	if r.ValidateMode(mode.Presets[0].Mode) {
		t.Error("foreign timing should not validate")
	}

	panel.present = false
	if r.IsConnected() {
		t.Error("absent panel should report disconnected")
	}

	bare := NewRGB("bare", regs.NewMemory("rgb"), nil, false, testLogger())
	if !bare.IsConnected() {
		t.Error("output without panel source is assumed connected")
	}
	if _, ok := bare.FixedTiming(); ok {
		t.Error("no fixed timing without panel")
	}
}

func TestRGB(t *testing.T) {
	bank := regs.NewMemory("rgb")
	r := NewRGB("lcd", bank, nil, true, testLogger())
	if err := r.Open(2); err != nil {
		t.Fatal(err)
	}

	if err := r.ApplyMode(panelTiming); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegRGBCtrl) != 1 {
		t.Errorf("MPU bit not set: %#x", bank.Peek(RegRGBCtrl))
	}

	if err := r.Power(true); err != nil {
		t.Fatal(err)
	}
	if got := bank.Peek(RegOutputMux); got != 2<<1|MuxEnable {
		t.Errorf("mux = %#x", got)
	}
	if err := r.Power(false); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegOutputMux) != 0 {
		t.Error("mux not cleared")
	}
}

func TestLVDS(t *testing.T) {
	bank := regs.NewMemory("lvds")
	l := NewLVDS("lvds0", bank, regs.NewClockDomain("lvds"), nil, LVDSOptions{
		Format:       LVDSJEIDA,
		InvertVSync:  true,
		InvertClock:  true,
		VoltageLevel: 3,
	}, testLogger())
	if err := l.Open(0); err != nil {
		t.Fatal(err)
	}

	if err := l.ApplyMode(panelTiming); err != nil {
		t.Fatal(err)
	}
	ctrl := bank.Peek(RegLVDSCtrl)
	if ctrl&0x3 != uint32(LVDSJEIDA) || ctrl&LVDSInvertVSync == 0 || ctrl&LVDSInvertClock == 0 || ctrl&LVDSInvertHSync != 0 {
		t.Errorf("ctrl = %#x", ctrl)
	}
	want, _ := LVDSPLLFor(panelTiming.PixelClock())
	if bank.Peek(RegLVDSPLL) != want.word() {
		t.Errorf("pll word = %#x, want %#x", bank.Peek(RegLVDSPLL), want.word())
	}
	if bank.Peek(RegLVDSVoltage) != 3 {
		t.Errorf("voltage = %d", bank.Peek(RegLVDSVoltage))
	}

	if err := l.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bank.Writes(RegLVDSPHYReset) != 2 || bank.Peek(RegLVDSPHYReset) != 0 {
		t.Errorf("reset pulse: writes=%d value=%d", bank.Writes(RegLVDSPHYReset), bank.Peek(RegLVDSPHYReset))
	}
	if err := l.Unprepare(); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegLVDSPHYReset) != 1 {
		t.Error("PHY should be held in reset")
	}
}

func TestLVDSPLLFor(t *testing.T) {
	tests := []struct {
		clk     physic.Frequency
		band    uint32
		inRange bool
	}{
		{25 * physic.MegaHertz, 0, true},
		{40 * physic.MegaHertz, 0, true},
		{51 * physic.MegaHertz, 1, true},
		{148 * physic.MegaHertz, 4, true},
		{200 * physic.MegaHertz, 4, false},
	}
	for _, tt := range tests {
		pll, ok := LVDSPLLFor(tt.clk)
		if pll.Band != tt.band || ok != tt.inRange {
			t.Errorf("LVDSPLLFor(%v) = band %d, %v; want %d, %v", tt.clk, pll.Band, ok, tt.band, tt.inRange)
		}
	}
}

func TestDSIPLLFor(t *testing.T) {
	for _, r := range dsiPLLs {
		if out := r.pll.Output(); out != r.max {
			t.Errorf("table entry for %v produces %v", r.max, out)
		}
	}

	pll, err := DSIPLLFor(480)
	if err != nil || pll.Band != 0x8 {
		t.Errorf("DSIPLLFor(480) = %+v, %v", pll, err)
	}
	pll, err = DSIPLLFor(481)
	if err != nil || pll.Band != 0xa {
		t.Errorf("DSIPLLFor(481) = %+v, %v", pll, err)
	}
	if _, err := DSIPLLFor(1500); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("DSIPLLFor(1500) = %v", err)
	}
	if _, err := DSIPLLFor(0); !errors.Is(err, disperr.ErrInvalidArgument) {
		t.Errorf("DSIPLLFor(0) = %v", err)
	}
}

func TestParseOptions(t *testing.T) {
	if f, err := ParseLVDSFormat("loc"); err != nil || f != LVDSLoc {
		t.Errorf("ParseLVDSFormat(loc) = %v, %v", f, err)
	}
	if _, err := ParseLVDSFormat("spwg"); err == nil {
		t.Error("expected error for unknown LVDS format")
	}
	if f, err := ParseDSIPixelFormat("rgb565"); err != nil || f.BitsPerPixel() != 16 {
		t.Errorf("ParseDSIPixelFormat(rgb565) = %v, %v", f, err)
	}
	if r, err := ParseColorRange("full"); err != nil || r != ColorRangeFull {
		t.Errorf("ParseColorRange(full) = %v, %v", r, err)
	}
	if f, err := ParseCCIRFormat("pal"); err != nil || f != PAL {
		t.Errorf("ParseCCIRFormat(pal) = %v, %v", f, err)
	}
}

func TestTVOut(t *testing.T) {
	bank := regs.NewMemory("tv")
	tv := NewTVOut("tv0", bank, PAL, testLogger())
	if err := tv.Open(1); err != nil {
		t.Fatal(err)
	}

	m, ok := tv.FixedTiming()
	if !ok || m.VActive != 576 || !m.Interlaced || !m.ClockPlausible() {
		t.Fatalf("PAL timing = %+v", m)
	}
	if !tv.ValidateMode(m) || tv.ValidateMode(NTSC.Mode()) {
		t.Error("ValidateMode should accept only PAL")
	}
	if err := tv.ApplyMode(NTSC.Mode()); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("ApplyMode(NTSC) = %v", err)
	}
	if err := tv.ApplyMode(m); err != nil {
		t.Fatal(err)
	}
	if err := tv.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tv.Power(true); err != nil {
		t.Fatal(err)
	}
	if got := bank.Peek(RegTVCtrl); got != TVPAL|TVCCIREnable {
		t.Errorf("tv ctrl = %#x", got)
	}
	if bank.Peek(RegTVDAC) != TVDACPower {
		t.Error("DAC not powered")
	}
	if err := tv.Power(false); err != nil {
		t.Fatal(err)
	}
	if bank.Peek(RegTVCtrl)&TVCCIREnable != 0 {
		t.Error("encoder still enabled")
	}
}
